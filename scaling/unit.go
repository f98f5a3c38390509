package scaling

import "fmt"

// Unit tags a metric with the physical quantity its raw register value represents.
type Unit int

const (
	Raw Unit = iota
	Volt
	Amp
	Watt
	AmpHour
	KilowattHour
	Celsius
)

var unitSymbols = map[Unit]string{
	Raw:          "",
	Volt:         "V",
	Amp:          "A",
	Watt:         "W",
	AmpHour:      "Ah",
	KilowattHour: "kWh",
	Celsius:      "C",
}

// String returns the unit symbol as printed next to a value, e.g. "kWh". Raw values have no symbol.
func (u Unit) String() string {
	if symbol, ok := unitSymbols[u]; ok {
		return symbol
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// ParseUnit returns the unit for the given symbol.
func ParseUnit(symbol string) (Unit, error) {
	for unit, s := range unitSymbols {
		if s == symbol {
			return unit, nil
		}
	}
	return Raw, fmt.Errorf("unknown unit %q", symbol)
}

func (u Unit) MarshalText() ([]byte, error) {
	if _, ok := unitSymbols[u]; !ok {
		return nil, fmt.Errorf("unknown unit %d", int(u))
	}
	return []byte(u.String()), nil
}

func (u *Unit) UnmarshalText(text []byte) error {
	unit, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = unit
	return nil
}
