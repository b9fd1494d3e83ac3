package device

import (
	"errors"
	"fmt"
)

// ADC range for raw counts. Out-of-range samples are clamped, not
// dropped: a bad sample must not leave a hole in the series.
const (
	adcMin = 0.0
	adcMax = 65535.0
)

var (
	ErrDecode = errors.New("decode error")
	ErrEncode = errors.New("encode error")
)

// Calibrate converts raw ADC counts to physical units.
func Calibrate(raw, gain, offset float64) float64 {
	return raw*gain + offset
}

// ClampRaw pulls a raw sample into the representable ADC range and
// reports whether it had to.
func ClampRaw(raw float64) (float64, bool) {
	if raw < adcMin {
		return adcMin, true
	}
	if raw > adcMax {
		return adcMax, true
	}
	return raw, false
}

// Decode validates one device's raw field map from a telemetry frame
// and returns the state update to apply. ADC devices get calibration
// applied here, synchronously. Unknown fields fail the whole frame for
// this device (schema violation); nil values are skipped so the
// previous state survives. Warnings (clamped samples) do not fail.
func Decode(dev Device, fields map[string]any) (map[string]any, []string, error) {
	update := make(map[string]any, len(fields))
	var warnings []string

	for field, value := range fields {
		if field == "channel" {
			// boards echo the addressed channel back; not a state field
			continue
		}
		if !HasField(dev.Kind, field) {
			return nil, warnings, fmt.Errorf("%w: %s has no field %q", ErrDecode, dev, field)
		}
		if value == nil {
			continue
		}

		if dev.ADC && field == analogField[dev.Kind] {
			raw, ok := value.(float64)
			if !ok {
				return nil, warnings, fmt.Errorf("%w: %s field %q: expected number, got %T", ErrDecode, dev, field, value)
			}
			clamped, wasClamped := ClampRaw(raw)
			if wasClamped {
				warnings = append(warnings, fmt.Sprintf("%s %s raw %v clamped", dev, field, raw))
			}
			update[field] = Calibrate(clamped, dev.Gain, dev.Offset)
			continue
		}

		switch value.(type) {
		case float64, bool, string:
			update[field] = value
		default:
			return nil, warnings, fmt.Errorf("%w: %s field %q: unsupported value type %T", ErrDecode, dev, field, value)
		}
	}
	return update, warnings, nil
}

// EncodeCommand validates that field may be commanded on this device
// and returns the field map the poll frame carries for it.
func EncodeCommand(dev Device, field string, value any) (map[string]any, error) {
	if !dev.Commandable(field) {
		return nil, fmt.Errorf("%w: field %q is not commandable on %s", ErrEncode, field, dev)
	}
	return map[string]any{"channel": dev.Channel, field: value}, nil
}
