package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	f := Frame{Seq: 42, Timestamp: 1.5, State: StateMap{}}
	f.State.Set("solenoids", "Fuel", "armed", true)
	f.State.Set("pts", "Chamber", "mv", 123.5)

	data, err := Marshal(f)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Seq)
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, true, got.State["solenoids"]["Fuel"]["armed"])
	assert.Equal(t, 123.5, got.State["pts"]["Chamber"]["mv"])
}

func TestChecksumMismatch(t *testing.T) {
	f := Frame{Seq: 1, State: StateMap{}}
	f.State.Set("pts", "Chamber", "mv", 100.0)

	data, err := Marshal(f)
	require.NoError(t, err)

	// corrupt the state body without breaking the JSON
	corrupted := bytes.Replace(data, []byte("100"), []byte("999"), 1)
	require.NotEqual(t, data, corrupted)

	_, err = Unmarshal(corrupted)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestUnsupportedVersion(t *testing.T) {
	_, err := Unmarshal([]byte(`{"v":99,"seq":1,"ts":0,"state":{},"sum":0}`))
	require.ErrorIs(t, err, ErrVersion)
}

func TestTruncatedFrame(t *testing.T) {
	f := Frame{Seq: 7, State: StateMap{}}
	f.State.Set("pts", "Chamber", "mv", 1.0)
	data, err := Marshal(f)
	require.NoError(t, err)

	_, err = Unmarshal(data[:len(data)/2])
	require.Error(t, err)
}
