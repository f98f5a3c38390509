package registers

import (
	"fmt"

	"github.com/cepro/chargecontroller/scaling"
)

// Group names, in the order the device groups are polled.
const (
	GroupBattery     = "Battery"
	GroupArray       = "Array"
	GroupTemperature = "Temperature"
	GroupCounter     = "Counter"
	GroupCondition   = "Condition"
)

// Calibration registers, see the TS-MPPT Modbus datasheet ("V_PU" and "I_PU").
const (
	VoltageScalingHigh uint16 = 0x0000
	VoltageScalingLow  uint16 = 0x0001
	CurrentScalingHigh uint16 = 0x0002
	CurrentScalingLow  uint16 = 0x0003
)

// MetricDef describes one value of interest on the charge controller.
type MetricDef struct {
	Address uint16       // the first register address
	Unit    scaling.Unit // how the raw value is scaled
	Label   string       // unique, human readable name of the metric
	Words   uint8        // the register width: 1 (signed 16 bit) or 2 (unsigned 32 bit)
}

// DeviceGroupDef is a named set of metrics that are polled, and fail, together.
type DeviceGroupDef struct {
	Name            string
	Metrics         []MetricDef // always polled
	OptionalMetrics []MetricDef // only polled in full mode
}

// Active returns the metrics to poll for this group. Limited mode only includes the primary metrics.
func (g DeviceGroupDef) Active(limited bool) []MetricDef {
	n := len(g.Metrics)
	if !limited {
		n += len(g.OptionalMetrics)
	}
	metrics := make([]MetricDef, 0, n)
	metrics = append(metrics, g.Metrics...)
	if !limited {
		metrics = append(metrics, g.OptionalMetrics...)
	}
	return metrics
}

// SoftwareVersion is read once for diagnostics and is not part of any group.
var SoftwareVersion = MetricDef{Address: 0x0004, Unit: scaling.Raw, Label: "Software Version", Words: 1}

var catalog = []DeviceGroupDef{
	{
		Name: GroupBattery,
		Metrics: []MetricDef{
			{Address: 0x0026, Unit: scaling.Volt, Label: "Battery Voltage", Words: 1},
			{Address: 0x0033, Unit: scaling.Volt, Label: "Target Voltage", Words: 1},
			{Address: 0x0027, Unit: scaling.Amp, Label: "Charge Current", Words: 1},
		},
		OptionalMetrics: []MetricDef{
			{Address: 0x003A, Unit: scaling.Watt, Label: "Output Power", Words: 1},
		},
	},
	{
		Name: GroupArray,
		Metrics: []MetricDef{
			{Address: 0x001B, Unit: scaling.Volt, Label: "Array Voltage", Words: 1},
			{Address: 0x001D, Unit: scaling.Amp, Label: "Array Current", Words: 1},
		},
		OptionalMetrics: []MetricDef{
			{Address: 0x003D, Unit: scaling.Volt, Label: "Sweep Vmp", Words: 1},
			{Address: 0x003E, Unit: scaling.Volt, Label: "Sweep Voc", Words: 1},
			{Address: 0x003C, Unit: scaling.Watt, Label: "Sweep Pmax", Words: 1},
		},
	},
	{
		Name: GroupTemperature,
		Metrics: []MetricDef{
			{Address: 0x0023, Unit: scaling.Celsius, Label: "Heat Sink Temperature", Words: 1},
		},
		OptionalMetrics: []MetricDef{
			{Address: 0x0025, Unit: scaling.Celsius, Label: "Battery Temperature", Words: 1},
		},
	},
	{
		Name: GroupCounter,
		Metrics: []MetricDef{
			// resettable counters
			{Address: 0x0034, Unit: scaling.AmpHour, Label: "Amp Hours", Words: 2},
			{Address: 0x0038, Unit: scaling.KilowattHour, Label: "Kilowatt Hours", Words: 1},
		},
	},
	{
		Name: GroupCondition,
		Metrics: []MetricDef{
			{Address: 0x0031, Unit: scaling.Raw, Label: "LED State", Words: 1},
			{Address: 0x0032, Unit: scaling.Raw, Label: "Charge State", Words: 1},
		},
	},
}

// CatalogError is returned when a group or metric is not in the catalog.
type CatalogError struct {
	Kind string // "group" or "metric"
	Name string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

// Groups returns a copy of all device groups in polling order. Callers may modify the result freely.
func Groups() []DeviceGroupDef {
	groups := make([]DeviceGroupDef, len(catalog))
	for i, g := range catalog {
		groups[i] = DeviceGroupDef{
			Name:            g.Name,
			Metrics:         append([]MetricDef(nil), g.Metrics...),
			OptionalMetrics: append([]MetricDef(nil), g.OptionalMetrics...),
		}
	}
	return groups
}

// Group returns the device group called `name`.
func Group(name string) (DeviceGroupDef, error) {
	for _, g := range Groups() {
		if g.Name == name {
			return g, nil
		}
	}
	return DeviceGroupDef{}, &CatalogError{Kind: "group", Name: name}
}

// Lookup returns the metric with the given label, and the name of the group it belongs to.
func Lookup(label string) (MetricDef, string, error) {
	for _, g := range catalog {
		for _, m := range g.Active(false) {
			if m.Label == label {
				return m, g.Name, nil
			}
		}
	}
	return MetricDef{}, "", &CatalogError{Kind: "metric", Name: label}
}
