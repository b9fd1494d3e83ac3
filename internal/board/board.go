// Package board runs one poll loop per physical board: request
// telemetry over the transport, decode and calibrate it into the state
// store, and carry queued actuation commands out in the same
// request/response cycle.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/device"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/state"
	"github.com/proplab/standd/internal/transport"
	"github.com/proplab/standd/internal/wire"
)

type Status int32

const (
	Disconnected Status = iota
	Connecting
	Polling
	Stopped
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

const (
	backoffMin = 100 * time.Millisecond
	backoffMax = 5 * time.Second
)

type devKey struct {
	kind device.Kind
	name string
}

// Board owns one transport and the devices behind it. Exactly one
// goroutine runs the poll loop; command submission from other
// goroutines only touches the queue.
type Board struct {
	Name string

	cfg     *config.BoardConfig
	tr      transport.Transport
	store   *state.Store
	devices []device.Device
	byKey   map[devKey]device.Device
	queue   *commandQueue

	interval    time.Duration
	recvTimeout time.Duration
	epoch       time.Time

	// desired is the full commanded image an actuator board transmits
	// every tick; accepted commands mutate it. Guarded by desiredMu.
	desiredMu sync.Mutex
	desired   wire.StateMap

	seq     atomic.Uint64
	status  atomic.Int32
	connOK  bool
	backoff time.Duration
}

func New(name string, cfg *config.BoardConfig, tr transport.Transport, store *state.Store) (*Board, error) {
	b := &Board{
		Name:        name,
		cfg:         cfg,
		tr:          tr,
		store:       store,
		byKey:       make(map[devKey]device.Device),
		queue:       newCommandQueue(cfg.CommandBufferSize),
		interval:    cfg.PollInterval(),
		recvTimeout: cfg.ReceiveTimeout(),
		epoch:       time.Now(),
	}
	if cfg.IsActuator {
		b.desired = make(wire.StateMap)
	}

	for kindName, byName := range cfg.Devices {
		kind, err := device.ParseKind(kindName)
		if err != nil {
			return nil, err
		}
		for devName, attrs := range byName {
			d := device.Device{Kind: kind, Name: devName, ADC: attrs.ADC, SafeAngle: attrs.SafeAngle}
			if attrs.Channel != nil {
				d.Channel = *attrs.Channel
			}
			if attrs.Gain != nil {
				d.Gain = *attrs.Gain
			}
			if attrs.Offset != nil {
				d.Offset = *attrs.Offset
			}
			if err := store.Register(kind, devName, b.interval); err != nil {
				return nil, err
			}
			b.devices = append(b.devices, d)
			b.byKey[devKey{kind: kind, name: devName}] = d
			b.seedDesired(d)
		}
	}
	return b, nil
}

// seedDesired starts every actuator disarmed and unpowered. A tvc with
// a configured safe angle is the one exception: it starts armed at
// that angle so the vane drives to a known position.
func (b *Board) seedDesired(d device.Device) {
	if b.desired == nil || !device.IsActuator(d.Kind) {
		return
	}
	kind, name := string(d.Kind), d.Name
	b.desired.Set(kind, name, "channel", d.Channel)
	b.desired.Set(kind, name, "armed", false)
	switch d.Kind {
	case device.Solenoid:
		b.desired.Set(kind, name, "powered", false)
	case device.Pyro:
		b.desired.Set(kind, name, "fired", false)
	case device.TVC:
		if d.SafeAngle != nil {
			b.desired.Set(kind, name, "armed", true)
			b.desired.Set(kind, name, "angle0", *d.SafeAngle)
			b.desired.Set(kind, name, "angle1", *d.SafeAngle)
		}
	}
}

func (b *Board) Devices() []device.Device { return b.devices }

func (b *Board) Device(kind device.Kind, name string) (device.Device, bool) {
	d, ok := b.byKey[devKey{kind: kind, name: name}]
	return d, ok
}

func (b *Board) Status() Status { return Status(b.status.Load()) }

func (b *Board) Interval() time.Duration { return b.interval }

func (b *Board) IsActuator() bool { return b.cfg.IsActuator }

// PushCommand queues one validated command for the next tick. Never
// blocks; reports false only when the queue cannot take it.
func (b *Board) PushCommand(cmd Command) bool {
	return b.queue.Push(cmd)
}

// DisarmAll forces every actuator on this board to armed=false (and
// solenoids unpowered) in the desired image, bypassing the queue. Any
// still-pending commands are dropped: nothing queued before a disarm
// may fire after it.
func (b *Board) DisarmAll() {
	if b.desired == nil {
		return
	}
	b.queue.Drain()
	b.desiredMu.Lock()
	defer b.desiredMu.Unlock()
	for _, d := range b.devices {
		if !device.IsActuator(d.Kind) {
			continue
		}
		b.desired.Set(string(d.Kind), d.Name, "armed", false)
		if d.Kind == device.Solenoid {
			b.desired.Set(string(d.Kind), d.Name, "powered", false)
		}
	}
}

// Run drives the poll loop until ctx is cancelled. Ticks are scheduled
// relative to completion: an overrunning tick drifts the phase instead
// of skipping telemetry.
func (b *Board) Run(ctx context.Context) {
	logging.Info("board started", "board", b.Name, "transport", b.tr.Describe(),
		"poll", b.interval, "devices", len(b.devices), "actuator", b.cfg.IsActuator)

	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			b.stop()
			return
		case <-timer.C:
			b.tick(ctx)
			timer.Reset(b.interval)
		}
	}
}

func (b *Board) stop() {
	b.status.Store(int32(Stopped))
	if err := b.tr.Close(); err != nil {
		logging.Warn("transport close", "board", b.Name, "error", err)
	}
	logging.Info("board stopped", "board", b.Name)
}

// tick is one full poll cycle: connect if needed, fold pending
// commands into the outbound frame, send, receive, decode into the
// store. All failures are contained here; nothing propagates past the
// board.
func (b *Board) tick(ctx context.Context) {
	if err := b.ensureConnected(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Warn("connect failed", "board", b.Name, "backoff", b.backoff, "error", err)
		}
		return
	}

	b.applyCommands()

	seq := b.seq.Add(1)
	req := wire.Frame{Seq: seq, Timestamp: time.Since(b.epoch).Seconds(), State: b.requestState()}
	data, err := wire.Marshal(req)
	if err != nil {
		logging.Error("request marshal", "board", b.Name, "error", err)
		return
	}
	if err := b.tr.Send(data); err != nil {
		b.dropSession(err)
		return
	}

	resp, err := b.awaitResponse(ctx, seq)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			logging.Warn("poll timeout", "board", b.Name, "seq", seq)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		b.dropSession(err)
		return
	}
	b.applyTelemetry(resp.State, time.Now())
}

// applyCommands drains the queue into the desired image (actuator
// boards). The whole image goes out every tick, so a command only has
// to land once.
func (b *Board) applyCommands() {
	cmds := b.queue.Drain()
	if len(cmds) == 0 || b.desired == nil {
		return
	}
	b.desiredMu.Lock()
	defer b.desiredMu.Unlock()
	for _, cmd := range cmds {
		d, ok := b.byKey[devKey{kind: cmd.Kind, name: cmd.Name}]
		if !ok {
			logging.Warn("command for unknown device", "board", b.Name, "kind", cmd.Kind, "name", cmd.Name)
			continue
		}
		fields, err := device.EncodeCommand(d, cmd.Field, cmd.Value)
		if err != nil {
			// dispatcher validates first; reaching this is a bug
			logging.Error("command encode", "board", b.Name, "id", cmd.ID, "error", err)
			continue
		}
		for f, v := range fields {
			b.desired.Set(string(cmd.Kind), cmd.Name, f, v)
		}
		logging.Debug("command staged", "board", b.Name, "id", cmd.ID,
			"device", d.String(), "field", cmd.Field, "value", cmd.Value)
	}
}

// requestState builds the outbound poll body: the desired image for
// actuator boards, a bare channel map for sensor boards.
func (b *Board) requestState() wire.StateMap {
	if b.desired != nil {
		b.desiredMu.Lock()
		defer b.desiredMu.Unlock()
		out := make(wire.StateMap, len(b.desired))
		for kind, byName := range b.desired {
			out[kind] = make(map[string]map[string]any, len(byName))
			for name, fields := range byName {
				cp := make(map[string]any, len(fields))
				for f, v := range fields {
					cp[f] = v
				}
				out[kind][name] = cp
			}
		}
		return out
	}
	out := make(wire.StateMap)
	for _, d := range b.devices {
		out.Set(string(d.Kind), d.Name, "channel", d.Channel)
	}
	return out
}

// awaitResponse reads frames until the one answering seq arrives or
// the receive window closes. Stale or corrupt frames are dropped
// without ending the session.
func (b *Board) awaitResponse(ctx context.Context, seq uint64) (wire.Frame, error) {
	deadline := time.Now().Add(b.recvTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Frame{}, transport.ErrTimeout
		}
		raw, err := b.tr.Receive(ctx, remaining)
		if err != nil {
			return wire.Frame{}, err
		}
		f, err := wire.Unmarshal(raw)
		if err != nil {
			logging.Warn("frame rejected", "board", b.Name, "error", err)
			continue
		}
		if f.Seq != seq {
			logging.Debug("stale frame dropped", "board", b.Name, "got", f.Seq, "want", seq)
			continue
		}
		return f, nil
	}
}

// applyTelemetry decodes the response body device by device. A bad
// entry skips that device only; last-known values stay in the store.
func (b *Board) applyTelemetry(m wire.StateMap, now time.Time) {
	for kindName, byName := range m {
		kind, err := device.ParseKind(kindName)
		if err != nil {
			logging.Warn("telemetry for unknown kind", "board", b.Name, "kind", kindName)
			continue
		}
		for name, fields := range byName {
			d, ok := b.byKey[devKey{kind: kind, name: name}]
			if !ok {
				logging.Warn("telemetry for unknown device", "board", b.Name, "kind", kindName, "name", name)
				continue
			}
			update, warnings, err := device.Decode(d, fields)
			for _, w := range warnings {
				logging.Warn("decode warning", "board", b.Name, "warning", w)
			}
			if err != nil {
				logging.Warn("decode failed", "board", b.Name, "device", d.String(), "error", err)
				continue
			}
			for field, value := range update {
				if err := b.store.Set(kind, name, field, value, now); err != nil {
					logging.Error("state set", "board", b.Name, "device", d.String(), "field", field, "error", err)
				}
			}
		}
	}
}

func (b *Board) ensureConnected(ctx context.Context) error {
	if b.connOK {
		return nil
	}
	b.status.Store(int32(Connecting))
	if b.backoff > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.backoff):
		}
	}
	if err := b.tr.Connect(ctx); err != nil {
		b.bumpBackoff()
		b.status.Store(int32(Disconnected))
		return err
	}
	b.connOK = true
	b.backoff = 0
	b.status.Store(int32(Polling))
	logging.Info("board connected", "board", b.Name, "transport", b.tr.Describe())
	return nil
}

func (b *Board) bumpBackoff() {
	if b.backoff == 0 {
		b.backoff = backoffMin
	} else {
		b.backoff *= 2
		if b.backoff > backoffMax {
			b.backoff = backoffMax
		}
	}
}

// dropSession tears the transport down after a hard I/O error. State
// values are left as-is; they age into staleness instead of clearing.
func (b *Board) dropSession(err error) {
	logging.Warn("session lost", "board", b.Name, "error", err)
	b.connOK = false
	b.status.Store(int32(Disconnected))
	b.bumpBackoff()
	if cerr := b.tr.Close(); cerr != nil {
		logging.Debug("transport close", "board", b.Name, "error", cerr)
	}
}

// String implements fmt.Stringer for log call sites.
func (b *Board) String() string {
	return fmt.Sprintf("board %s (%s)", b.Name, b.tr.Describe())
}
