package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/cepro/chargecontroller/config"
	"github.com/cepro/chargecontroller/publisher"
	"github.com/cepro/chargecontroller/telemetry"
	"github.com/cepro/chargecontroller/transport"
	"github.com/cepro/chargecontroller/tsmppt"
	"golang.org/x/exp/slog"
)

const decimalPlaces = 2

func main() {

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	full := flag.Bool("full", false, "also poll the optional metrics of each group")
	once := flag.Bool("once", false, "poll once, print the status and exit")
	flag.Parse()

	os.Exit(run(*configPath, *full, *once))
}

func run(configPath string, full bool, once bool) int {

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Read(configPath)
	if err != nil {
		slog.Error("Failed to read config", "error", err)
		return 1
	}

	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		slog.Error("Failed to setup logging", "error", err)
		return 1
	}
	defer closeLog()

	slog.Info("Starting charge controller reader...", "device_id", cfg.Device.ID, "transport", cfg.Device.Transport)

	limited := !(full || cfg.Poll.Full)
	once = once || cfg.Poll.IntervalSecs == 0

	fetcher, closeFetcher, err := newFetcher(cfg.Device)
	if err != nil {
		slog.Error("Failed to create transport", "error", err)
		return 1
	}
	defer closeFetcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []tsmppt.Option
	if cfg.Device.SplitCalibrationReads {
		opts = append(opts, tsmppt.WithSplitCalibrationReads())
	}

	status, err := tsmppt.NewSystemStatus(ctx, fetcher, opts...)
	if err != nil {
		slog.Error("Failed to read calibration", "error", err)
		return 1
	}

	scalers := status.Scalers()
	slog.Info("Read calibration", "voltage_scaler", scalers.Voltage, "current_scaler", scalers.Current)

	version, err := status.SoftwareVersion(ctx)
	if err != nil {
		slog.Warn("Failed to read software version", "error", err)
	} else {
		slog.Info("Read software version", "version", fmt.Sprintf("0x%04X", version))
	}

	if once {
		return printStatus(ctx, os.Stdout, status, limited)
	}

	readings := make(chan telemetry.ChargeControllerReading)
	controller := tsmppt.New(readings, cfg.Device.ID, status, limited)
	go controller.Run(ctx, cfg.Poll.Interval())

	var pub *publisher.Publisher
	if cfg.MQTT.Enabled() {
		pub = publisher.New(cfg.MQTT)
		err = pub.Connect()
		if err != nil {
			slog.Error("Failed to connect to MQTT broker", "error", err)
			return 1
		}
		go pub.Run(ctx)
	}

	// readings are printed, and published if there is a broker
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case reading := <-readings:
				payload, err := publisher.Payload(reading)
				if err != nil {
					slog.Error("Failed to render reading", "error", err)
					continue
				}
				fmt.Fprintln(os.Stdout, string(payload))

				if pub != nil {
					select {
					case pub.Readings <- reading:
					default:
						slog.Warn("Dropped reading, publisher is behind", "reading_id", reading.ID)
					}
				}
			}
		}
	}()

	// wait for a ctrl-c interrupt before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan

	// cancel any open go-routines and give them up to 100ms to gracefully shutdown
	cancel()
	time.Sleep(time.Millisecond * 100)

	slog.Info("Exiting")
	return 0
}

// printStatus polls every group once and writes the label keyed status as JSON. Groups that failed are logged and
// omitted, and cause a non-zero exit code.
func printStatus(ctx context.Context, w io.Writer, status *tsmppt.SystemStatus, limited bool) int {
	exitCode := 0

	records, err := status.Get(ctx, limited)
	if err != nil {
		var pollErr *tsmppt.PollError
		if errors.As(err, &pollErr) {
			for _, groupErr := range pollErr.Groups {
				slog.Error("Failed to poll group", "group", groupErr.Group, "error", groupErr.Err)
			}
		} else {
			slog.Error("Failed to poll", "error", err)
		}
		exitCode = 1
	}

	rounded := make(map[string]telemetry.StatusRecord, len(records))
	for label, record := range records {
		rounded[label] = record.Rounded(decimalPlaces)
	}

	out, err := json.MarshalIndent(rounded, "", "  ")
	if err != nil {
		slog.Error("Failed to render status", "error", err)
		return 1
	}
	fmt.Fprintln(w, string(out))

	return exitCode
}

// setupLogging installs the default logger at the configured level, writing to the log file if there is one.
func setupLogging(cfg config.LoggingConfig) (func(), error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	closeLog := func() {}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closeLog = func() { file.Close() }
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))

	return closeLog, nil
}

// newFetcher creates the transport named in the config, and a function to close it.
func newFetcher(cfg config.DeviceConfig) (transport.Fetcher, func(), error) {
	noop := func() {}

	switch cfg.Transport {
	case config.TransportCGI:
		client, err := transport.NewCGIClient(cfg.Host, cfg.CGI, cfg.Timeout())
		if err != nil {
			return nil, nil, fmt.Errorf("create cgi client: %w", err)
		}
		return client, noop, nil

	case config.TransportModbusTCP:
		client, err := transport.NewTCPClient(cfg.Host, cfg.UnitID, cfg.Timeout())
		if err != nil {
			return nil, nil, fmt.Errorf("create modbus tcp client: %w", err)
		}
		return client, func() { client.Close() }, nil

	case config.TransportModbusRTU:
		client, err := transport.NewRTUClient(transport.SerialConfig{
			URL:      cfg.Serial.URL,
			Speed:    cfg.Serial.Speed,
			DataBits: cfg.Serial.DataBits,
			Parity:   cfg.Serial.Parity,
			StopBits: cfg.Serial.StopBits,
			UnitID:   cfg.UnitID,
			Timeout:  cfg.Timeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create modbus rtu client: %w", err)
		}
		return client, func() { client.Close() }, nil

	case config.TransportMock:
		return transport.NewEmulated(), noop, nil
	}

	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
