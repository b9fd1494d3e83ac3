package device

import "fmt"

// Kind is the closed set of hardware types a board can own. The string
// values double as the config/wire keys (plural, matching the boards'
// firmware tables).
type Kind string

const (
	Solenoid Kind = "solenoids"
	Pyro     Kind = "pyros"
	TVC      Kind = "tvcs"
	PT       Kind = "pts"
	TC       Kind = "tcs"
	Loadcell Kind = "loadcells"
	IMU      Kind = "imus"
	GPS      Kind = "gpss"
	Mag      Kind = "mags"
	Baro     Kind = "baros"
	Voltage  Kind = "voltages"
)

// defaultFields is the per-kind state schema. A device of a kind never
// carries a state field outside this set; everything starts as nil
// ("never seen") until the first successful decode.
var defaultFields = map[Kind][]string{
	Solenoid: {"armed", "powered"},
	Pyro:     {"armed", "fired"},
	TVC:      {"armed", "state", "angle0", "angle1"},
	PT:       {"mv"},
	TC:       {"temp"},
	Loadcell: {"kg"},
	IMU:      {"a_x", "a_y", "a_z", "g_x", "g_y", "g_z"},
	GPS:      {"lat", "lon", "alt"},
	Mag:      {"m_x", "m_y", "m_z"},
	Baro:     {"pressure", "temp"},
	Voltage:  {"volts"},
}

// commandable lists the fields a collaborator may set through the
// dispatcher. Sensors have none; their fields only move on decode.
var commandable = map[Kind]map[string]bool{
	Solenoid: {"armed": true, "powered": true},
	Pyro:     {"armed": true, "fired": true},
	TVC:      {"armed": true, "angle0": true, "angle1": true},
}

// analogField names the field that holds the calibrated reading for
// adc-flagged devices of a kind.
var analogField = map[Kind]string{
	PT:       "mv",
	TC:       "temp",
	Loadcell: "kg",
	Voltage:  "volts",
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := defaultFields[k]; !ok {
		return "", fmt.Errorf("unknown device kind %q", s)
	}
	return k, nil
}

func Kinds() []Kind {
	ks := make([]Kind, 0, len(defaultFields))
	for k := range defaultFields {
		ks = append(ks, k)
	}
	return ks
}

// Fields returns the state schema for a kind, nil if the kind is unknown.
func Fields(k Kind) []string {
	return defaultFields[k]
}

func HasField(k Kind, field string) bool {
	for _, f := range defaultFields[k] {
		if f == field {
			return true
		}
	}
	return false
}

// IsActuator reports whether a kind accepts commands at all.
func IsActuator(k Kind) bool {
	return len(commandable[k]) > 0
}

func IsCommandable(k Kind, field string) bool {
	return commandable[k][field]
}

// NeedsChannel reports whether devices of this kind address a
// board-local channel (everything except fixed single-instance
// sensors like imu/gps/mag/baro).
func NeedsChannel(k Kind) bool {
	switch k {
	case IMU, GPS, Mag, Baro:
		return false
	}
	return true
}
