package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrate(t *testing.T) {
	assert.Equal(t, 25.0, Calibrate(10, 2, 5))
	assert.Equal(t, -5.0, Calibrate(0, 2, -5))
	// deterministic: same input, same output
	assert.Equal(t, Calibrate(1234, 0.125, -3.5), Calibrate(1234, 0.125, -3.5))
}

func TestDecodeAppliesCalibration(t *testing.T) {
	pt := Device{Kind: PT, Name: "Chamber", Channel: 2, ADC: true, Gain: 0.5, Offset: -10}

	update, warnings, err := Decode(pt, map[string]any{"mv": 1000.0, "channel": 2.0})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 1000.0*0.5-10, update["mv"])
}

func TestDecodeClampsOutOfRangeRaw(t *testing.T) {
	pt := Device{Kind: PT, Name: "Chamber", ADC: true, Gain: 1, Offset: 0}

	update, warnings, err := Decode(pt, map[string]any{"mv": 70000.0})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, 65535.0, update["mv"])

	update, warnings, err = Decode(pt, map[string]any{"mv": -12.0})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, 0.0, update["mv"])
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	sol := Device{Kind: Solenoid, Name: "Fuel"}

	_, _, err := Decode(sol, map[string]any{"pressure": 5.0})
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeSkipsNulls(t *testing.T) {
	sol := Device{Kind: Solenoid, Name: "Fuel"}

	update, _, err := Decode(sol, map[string]any{"armed": nil, "powered": true})
	require.NoError(t, err)
	_, hasArmed := update["armed"]
	assert.False(t, hasArmed, "null must not overwrite previous state")
	assert.Equal(t, true, update["powered"])
}

func TestEncodeCommand(t *testing.T) {
	sol := Device{Kind: Solenoid, Name: "Fuel", Channel: 3}

	fields, err := EncodeCommand(sol, "powered", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"channel": 3, "powered": true}, fields)

	// pt readings are read-only
	pt := Device{Kind: PT, Name: "Chamber"}
	_, err = EncodeCommand(pt, "mv", 1.0)
	require.ErrorIs(t, err, ErrEncode)

	// state exists on tvcs but is telemetry, not a command
	tvc := Device{Kind: TVC, Name: "Main"}
	_, err = EncodeCommand(tvc, "state", "moving")
	require.ErrorIs(t, err, ErrEncode)
}

func TestKindHelpers(t *testing.T) {
	_, err := ParseKind("thrusters")
	require.Error(t, err)

	k, err := ParseKind("solenoids")
	require.NoError(t, err)
	assert.True(t, IsActuator(k))
	assert.False(t, IsActuator(PT))

	assert.True(t, NeedsChannel(PT))
	assert.False(t, NeedsChannel(IMU))
}
