package telemetry

import (
	"fmt"
	"time"

	"github.com/cepro/chargecontroller/scaling"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// ReadingMeta holds the identity of a reading
type ReadingMeta struct {
	ID       uuid.UUID `json:"id"`
	DeviceID uuid.UUID `json:"deviceId"`
	Time     time.Time `json:"time"`
}

// StatusRecord is a single converted metric value. Records are keyed by their label when a device is polled.
type StatusRecord struct {
	Group string       `json:"group"`
	Label string       `json:"-"`
	Value float64      `json:"value"`
	Unit  scaling.Unit `json:"unit"`
}

// Rounded returns a copy of the record with the value rounded for display.
func (r StatusRecord) Rounded(places int) StatusRecord {
	r.Value = scaling.Round(r.Value, places)
	return r
}

// ChargeControllerReading holds data pulled from a solar charge controller.
// Metrics that were not read, either because they are only polled in full mode or because their group failed, are nil.
type ChargeControllerReading struct {
	ReadingMeta `mapstructure:"-"`

	// Battery
	BatteryVoltage *float64 `mapstructure:"Battery Voltage" json:"batteryVoltage,omitempty"`
	TargetVoltage  *float64 `mapstructure:"Target Voltage" json:"targetVoltage,omitempty"`
	ChargeCurrent  *float64 `mapstructure:"Charge Current" json:"chargeCurrent,omitempty"`
	OutputPower    *float64 `mapstructure:"Output Power" json:"outputPower,omitempty"`

	// Array
	ArrayVoltage *float64 `mapstructure:"Array Voltage" json:"arrayVoltage,omitempty"`
	ArrayCurrent *float64 `mapstructure:"Array Current" json:"arrayCurrent,omitempty"`
	SweepVmp     *float64 `mapstructure:"Sweep Vmp" json:"sweepVmp,omitempty"`
	SweepVoc     *float64 `mapstructure:"Sweep Voc" json:"sweepVoc,omitempty"`
	SweepPmax    *float64 `mapstructure:"Sweep Pmax" json:"sweepPmax,omitempty"`

	// Temperature
	HeatSinkTemperature *float64 `mapstructure:"Heat Sink Temperature" json:"heatSinkTemperature,omitempty"`
	BatteryTemperature  *float64 `mapstructure:"Battery Temperature" json:"batteryTemperature,omitempty"`

	// Counter
	AmpHours      *float64 `mapstructure:"Amp Hours" json:"ampHours,omitempty"`
	KilowattHours *float64 `mapstructure:"Kilowatt Hours" json:"kilowattHours,omitempty"`

	// Condition
	LEDState    *float64 `mapstructure:"LED State" json:"ledState,omitempty"`
	ChargeState *float64 `mapstructure:"Charge State" json:"chargeState,omitempty"`

	// Records holds every successfully read metric keyed by label, as returned by the poll.
	Records map[string]StatusRecord `mapstructure:"-" json:"-"`
}

// NewChargeControllerReading converts the label keyed records of one poll into a concrete reading.
// A record with a label that has no matching field is an error.
func NewChargeControllerReading(meta ReadingMeta, records map[string]StatusRecord) (ChargeControllerReading, error) {

	reading := ChargeControllerReading{
		ReadingMeta: meta,
		Records:     records,
	}

	values := make(map[string]interface{}, len(records))
	for label, record := range records {
		values[label] = record.Value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &reading,
	})
	if err != nil {
		return ChargeControllerReading{}, fmt.Errorf("create decoder: %w", err)
	}

	err = decoder.Decode(values)
	if err != nil {
		return ChargeControllerReading{}, fmt.Errorf("decode metric map: %w", err)
	}

	return reading, nil
}
