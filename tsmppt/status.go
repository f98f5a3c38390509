package tsmppt

import (
	"context"
	"fmt"

	"github.com/cepro/chargecontroller/modbusaccess"
	"github.com/cepro/chargecontroller/registers"
	"github.com/cepro/chargecontroller/scaling"
	"github.com/cepro/chargecontroller/telemetry"
	"github.com/cepro/chargecontroller/transport"
)

type options struct {
	splitCalibrationReads bool
}

// Option configures a SystemStatus.
type Option func(*options)

// WithSplitCalibrationReads reads each calibration register on its own, for firmware that rejects two register reads
// of the scaling registers. The resulting scalers are the same.
func WithSplitCalibrationReads() Option {
	return func(o *options) {
		o.splitCalibrationReads = true
	}
}

// SystemStatus reads the status of a TS-MPPT charge controller, converting registers into physical values.
//
// The calibration scalers are read once, when the SystemStatus is created, and are used for every subsequent poll.
type SystemStatus struct {
	fetcher transport.Fetcher
	scalers scaling.Scalers
}

// NewSystemStatus reads the voltage and current scalers from the device. It fails if either could not be read.
func NewSystemStatus(ctx context.Context, fetcher transport.Fetcher, opts ...Option) (*SystemStatus, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &SystemStatus{
		fetcher: fetcher,
	}

	voltage, err := s.readScaler(ctx, registers.VoltageScalingHigh, registers.VoltageScalingLow, o.splitCalibrationReads)
	if err != nil {
		return nil, fmt.Errorf("read voltage scaler: %w", err)
	}

	current, err := s.readScaler(ctx, registers.CurrentScalingHigh, registers.CurrentScalingLow, o.splitCalibrationReads)
	if err != nil {
		return nil, fmt.Errorf("read current scaler: %w", err)
	}

	s.scalers = scaling.Scalers{Voltage: voltage, Current: current}

	return s, nil
}

// Scalers returns the calibration read when the SystemStatus was created.
func (s *SystemStatus) Scalers() scaling.Scalers {
	return s.scalers
}

// Groups returns the device groups in polling order. Each call returns a new slice.
func (s *SystemStatus) Groups() []registers.DeviceGroupDef {
	return registers.Groups()
}

// readScaler reads a whole.fraction calibration value.
func (s *SystemStatus) readScaler(ctx context.Context, highAddr, lowAddr uint16, split bool) (float64, error) {
	if !split {
		// the pair is adjacent and read as one two register value
		words, err := s.readWords(ctx, highAddr, 2)
		if err != nil {
			return 0, err
		}
		return scaling.ScalerFromWords(words[0], words[1]), nil
	}

	high, err := s.readWords(ctx, highAddr, 1)
	if err != nil {
		return 0, err
	}
	low, err := s.readWords(ctx, lowAddr, 1)
	if err != nil {
		return 0, err
	}
	return scaling.ScalerFromWords(high[0], low[0]), nil
}

// readWords fetches and decodes `wordCount` registers, checking the response is as wide as requested.
func (s *SystemStatus) readWords(ctx context.Context, address uint16, wordCount uint8) (modbusaccess.Frame, error) {
	text, err := s.fetcher.Fetch(ctx, address, wordCount)
	if err != nil {
		return nil, err
	}

	words, err := modbusaccess.ParseFrame(text)
	if err != nil {
		return nil, err
	}

	if len(words) != int(wordCount) {
		return nil, &modbusaccess.FrameFormatError{
			Text:   text,
			Reason: fmt.Sprintf("got %d word(s) from 0x%04X, want %d", len(words), address, wordCount),
		}
	}

	return words, nil
}

// ReadMetric reads a single metric and returns its value in physical units, at full precision.
func (s *SystemStatus) ReadMetric(ctx context.Context, metric registers.MetricDef) (float64, error) {
	words, err := s.readWords(ctx, metric.Address, metric.Words)
	if err != nil {
		return 0, err
	}

	raw := modbusaccess.Assemble(words, metric.Words)

	return scaling.Convert(raw, metric.Unit, s.scalers), nil
}

// SoftwareVersion returns the firmware version word of the device.
func (s *SystemStatus) SoftwareVersion(ctx context.Context) (uint16, error) {
	words, err := s.readWords(ctx, registers.SoftwareVersion.Address, registers.SoftwareVersion.Words)
	if err != nil {
		return 0, fmt.Errorf("read software version: %w", err)
	}
	return words[0], nil
}

// PollGroup reads the active metrics of `group` in order. The first failed read fails the whole group, in which case
// no records are returned.
func (s *SystemStatus) PollGroup(ctx context.Context, group registers.DeviceGroupDef, limited bool) ([]telemetry.StatusRecord, error) {
	metrics := group.Active(limited)
	records := make([]telemetry.StatusRecord, 0, len(metrics))

	for _, metric := range metrics {
		val, err := s.ReadMetric(ctx, metric)
		if err != nil {
			return nil, &GroupError{Group: group.Name, Metric: metric, Err: err}
		}

		records = append(records, telemetry.StatusRecord{
			Group: group.Name,
			Label: metric.Label,
			Value: val,
			Unit:  metric.Unit,
		})
	}

	return records, nil
}

// Poll reads each of the groups in order and returns the records keyed by metric label.
//
// A failed group does not stop the poll: the records of every successful group are returned along with a *PollError
// describing the failed ones.
func (s *SystemStatus) Poll(ctx context.Context, groups []registers.DeviceGroupDef, limited bool) (map[string]telemetry.StatusRecord, error) {
	status := make(map[string]telemetry.StatusRecord)
	var pollErr PollError

	for _, group := range groups {
		records, err := s.PollGroup(ctx, group, limited)
		if err != nil {
			groupErr, ok := err.(*GroupError)
			if !ok {
				groupErr = &GroupError{Group: group.Name, Err: err}
			}
			pollErr.Groups = append(pollErr.Groups, groupErr)
			continue
		}

		for _, record := range records {
			status[record.Label] = record
		}
	}

	if len(pollErr.Groups) > 0 {
		return status, &pollErr
	}

	return status, nil
}

// Get polls every device group of the charge controller.
func (s *SystemStatus) Get(ctx context.Context, limited bool) (map[string]telemetry.StatusRecord, error) {
	return s.Poll(ctx, s.Groups(), limited)
}
