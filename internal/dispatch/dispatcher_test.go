package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/registry"
	"github.com/proplab/standd/internal/state"
)

func intPtr(v int) *int { return &v }

func testSetup(t *testing.T) (*Dispatcher, *state.Store) {
	t.Helper()
	cfg := &config.StandConfig{
		Boards: map[string]*config.BoardConfig{
			"ActuatorBoard": {
				UDP:             &config.UDPConfig{Host: "127.0.0.1", Port: 49152},
				PollIntervalSec: 0.02,
				IsActuator:      true,
				Devices: map[string]map[string]config.DeviceConfig{
					"solenoids": {"Fuel": {Channel: intPtr(0)}},
					"pyros":     {"Igniter": {Channel: intPtr(0)}},
					"pts":       {"Chamber": {Channel: intPtr(1)}},
				},
			},
		},
	}
	store := state.NewStore(0)
	reg, err := registry.New(cfg, store)
	require.NoError(t, err)
	return New(reg, store, 2*time.Second), store
}

func TestSubmitUnknownTarget(t *testing.T) {
	d, _ := testSetup(t)

	_, err := d.Submit(Request{Board: "NoSuchBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrUnknownTarget)

	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "thrusters", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrUnknownTarget)

	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "NoSuchValve", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestSubmitNotCommandable(t *testing.T) {
	d, _ := testSetup(t)

	_, err := d.Submit(Request{Board: "ActuatorBoard", Kind: "pts", Name: "Chamber", Field: "mv", Value: 1.0})
	require.ErrorIs(t, err, ErrNotCommandable)
}

func TestSubmitNotArmed(t *testing.T) {
	d, store := testSetup(t)

	// armed is unknown (never decoded): gate closed
	_, err := d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrNotArmed)

	require.NoError(t, store.Set(device.Solenoid, "Fuel", "armed", false, time.Now()))
	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrNotArmed)

	// rejection must not touch the commanded field
	v, err := store.Get(device.Solenoid, "Fuel", "powered")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSubmitArmedGateOpen(t *testing.T) {
	d, store := testSetup(t)

	require.NoError(t, store.Set(device.Pyro, "Igniter", "armed", true, time.Now()))
	id, err := d.Submit(Request{Board: "ActuatorBoard", Kind: "pyros", Name: "Igniter", Field: "fired", Value: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSubmitArmingIsExempt(t *testing.T) {
	d, _ := testSetup(t)

	// arming flips the gate, so it cannot itself be gated
	id, err := d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "armed", Value: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSubmitStaleCommand(t *testing.T) {
	d, store := testSetup(t)
	require.NoError(t, store.Set(device.Solenoid, "Fuel", "armed", true, time.Now()))

	_, err := d.Submit(Request{
		Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel",
		Field: "powered", Value: true, IssuedAt: time.Now().Add(-5 * time.Second),
	})
	require.ErrorIs(t, err, ErrStaleCommand)
}
