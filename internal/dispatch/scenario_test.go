package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/registry"
	"github.com/proplab/standd/internal/state"
	"github.com/proplab/standd/internal/wire"
)

// fakeBoard answers poll frames over real UDP the way an actuator
// board does: mirror the sequence number and echo the desired image.
func fakeBoard(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := wire.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			resp := wire.Frame{Seq: req.Seq, State: make(wire.StateMap)}
			for kind, byName := range req.State {
				for name, fields := range byName {
					for f, v := range fields {
						if f == "channel" {
							continue
						}
						resp.State.Set(kind, name, f, v)
					}
				}
			}
			data, err := wire.Marshal(resp)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(data, peer)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// Full arm/actuate/disarm pass against a live poll loop.
func TestArmActuateDisarmScenario(t *testing.T) {
	port := fakeBoard(t)

	cfg := &config.StandConfig{
		Boards: map[string]*config.BoardConfig{
			"ActuatorBoard": {
				UDP:              &config.UDPConfig{Host: "127.0.0.1", Port: port},
				PollIntervalSec:  0.01,
				ReceiveTimeoutMs: 200,
				IsActuator:       true,
				Devices: map[string]map[string]config.DeviceConfig{
					"solenoids": {"Fuel": {Channel: intPtr(0)}},
				},
			},
		},
	}
	store := state.NewStore(0)
	reg, err := registry.New(cfg, store)
	require.NoError(t, err)
	d := New(reg, store, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.StartAll(ctx)
	defer reg.StopAll()

	get := func(field string) any {
		v, err := store.Get(device.Solenoid, "Fuel", field)
		require.NoError(t, err)
		return v
	}

	// before arming, actuation is rejected
	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrNotArmed)

	// arm, wait for the echo to land in the store
	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "armed", Value: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return get("armed") == true }, 2*time.Second, 5*time.Millisecond)

	// now power it
	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return get("powered") == true }, 2*time.Second, 5*time.Millisecond)

	// disarm closes the gate; the earlier powered state is untouched
	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "armed", Value: false})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return get("armed") == false }, 2*time.Second, 5*time.Millisecond)

	_, err = d.Submit(Request{Board: "ActuatorBoard", Kind: "solenoids", Name: "Fuel", Field: "powered", Value: true})
	require.ErrorIs(t, err, ErrNotArmed)
	assert.Equal(t, true, get("powered"), "rejected command must not change state")
}
