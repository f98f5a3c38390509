package tsmppt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cepro/chargecontroller/telemetry"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// ChargeController polls a TS-MPPT charge controller.
// Readings are taken regularly and sent onto the `readings` channel.
type ChargeController struct {
	readings chan<- telemetry.ChargeControllerReading
	id       uuid.UUID
	status   *SystemStatus
	limited  bool
	logger   *slog.Logger
}

func New(readings chan<- telemetry.ChargeControllerReading, id uuid.UUID, status *SystemStatus, limited bool) *ChargeController {

	logger := slog.Default().With("device_id", id)

	return &ChargeController{
		readings: readings,
		id:       id,
		status:   status,
		limited:  limited,
		logger:   logger,
	}
}

// Run loops forever polling the charge controller every `period`. Exits when the context is cancelled.
func (c *ChargeController) Run(ctx context.Context, period time.Duration) error {

	readingTicker := time.NewTicker(period)
	defer readingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-readingTicker.C:

			reading, err := c.Read(ctx, t)
			if err != nil {
				var pollErr *PollError
				if !errors.As(err, &pollErr) {
					c.logger.Error("Failed to read charge controller", "error", err)
					continue // try again next time
				}
				// the groups that were read are still worth sending on
				c.logger.Warn("Failed to poll some groups", "groups", pollErr.Failed(), "error", err)
			}

			select {
			case c.readings <- reading:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Read polls the device once and converts the result into a reading taken at `t`.
//
// If some groups failed the reading holds the rest and a *PollError is returned with it.
func (c *ChargeController) Read(ctx context.Context, t time.Time) (telemetry.ChargeControllerReading, error) {

	records, pollErr := c.status.Get(ctx, c.limited)

	c.logger.Debug("Polled charge controller", "metrics", len(records))

	reading, err := telemetry.NewChargeControllerReading(telemetry.ReadingMeta{
		ID:       uuid.New(),
		DeviceID: c.id,
		Time:     t,
	}, records)
	if err != nil {
		return telemetry.ChargeControllerReading{}, fmt.Errorf("convert records: %w", err)
	}

	return reading, pollErr
}
