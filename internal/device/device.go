package device

import "fmt"

// Device is one logical sensor or actuator owned by a board.
// (Kind, Name) is unique across all boards; the state store and the
// telemetry topic space are keyed without the board name.
type Device struct {
	Kind    Kind
	Name    string
	Channel int

	// ADC devices report raw counts; the codec converts them with
	// physical = raw*gain + offset during decode.
	ADC    bool
	Gain   float64
	Offset float64

	// SafeAngle seeds a tvc's desired angle at startup when set.
	SafeAngle *float64
}

func (d Device) String() string {
	return fmt.Sprintf("%s/%s", d.Kind, d.Name)
}

// Commandable reports whether a collaborator may set field on this device.
func (d Device) Commandable(field string) bool {
	return IsCommandable(d.Kind, field)
}
