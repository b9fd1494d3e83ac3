// Package telemetry exports the state store over MQTT and accepts
// commands from controllers on the same broker. It is glue around the
// core: everything here consumes the store and dispatcher interfaces,
// nothing in the core depends back on it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/proplab/standd/internal/dispatch"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/state"
)

type Config struct {
	BrokerURL      string
	ClientID       string
	TopicPrefix    string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	// Heartbeat republishes unchanged fields so consumers can tell a
	// quiet link from a dead one. Zero disables it.
	Heartbeat time.Duration
}

type fieldKey struct {
	kind, name, field string
}

type published struct {
	value  any
	sentAt time.Time
}

type Broker struct {
	cfg        Config
	client     mqtt.Client
	store      *state.Store
	dispatcher *dispatch.Dispatcher

	mu   sync.Mutex
	last map[fieldKey]published
}

// FieldMessage is the per-field state payload.
type FieldMessage struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandResult answers each command message, success or not.
type CommandResult struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

func NewBroker(cfg Config, store *state.Store, dispatcher *dispatch.Dispatcher) *Broker {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Broker{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		last:       make(map[fieldKey]published),
	}
}

func (b *Broker) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	b.client = mqtt.NewClient(opts)

	t := b.client.Connect()
	done := make(chan struct{})
	go func() {
		t.Wait()
		close(done)
	}()
	select {
	case <-done:
		return t.Error()
	case <-time.After(b.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connect timeout after %v", b.cfg.ConnectTimeout)
	case <-ctx.Done():
		b.client.Disconnect(250)
		return ctx.Err()
	}
}

// Run forwards state updates to the broker until ctx is cancelled.
// Publishing is change-driven with a heartbeat floor; a slow broker
// costs dropped publishes, never a stalled poll loop.
func (b *Broker) Run(ctx context.Context) {
	updates, cancel := b.store.Subscribe("", "", 256)
	defer cancel()

	if err := b.subscribeCommands(); err != nil {
		logging.Error("command subscribe", "error", err)
	}

	logging.Info("telemetry started", "broker", b.cfg.BrokerURL, "prefix", b.cfg.TopicPrefix)
	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(250)
			logging.Info("telemetry stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.publishUpdate(u)
		}
	}
}

func (b *Broker) publishUpdate(u state.Update) {
	key := fieldKey{kind: string(u.Kind), name: u.Name, field: u.Field}

	b.mu.Lock()
	prev, seen := b.last[key]
	changed := !seen || prev.value != u.Value
	heartbeatDue := b.cfg.Heartbeat > 0 && seen && time.Since(prev.sentAt) > b.cfg.Heartbeat
	if !changed && !heartbeatDue {
		b.mu.Unlock()
		return
	}
	b.last[key] = published{value: u.Value, sentAt: time.Now()}
	b.mu.Unlock()

	topic := fmt.Sprintf("%s/state/%s/%s/%s", b.cfg.TopicPrefix, u.Kind, u.Name, u.Field)
	payload, err := json.Marshal(FieldMessage{Value: u.Value, Timestamp: u.Timestamp})
	if err != nil {
		logging.Error("state marshal", "topic", topic, "error", err)
		return
	}
	token := b.client.Publish(topic, 0, true, payload)
	go func() {
		if token.WaitTimeout(b.cfg.PublishTimeout) && token.Error() != nil {
			logging.Warn("state publish", "topic", topic, "error", token.Error())
		}
	}()
}

func (b *Broker) subscribeCommands() error {
	topic := b.cfg.TopicPrefix + "/command"
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("command handler panic", "topic", msg.Topic(), "err", r)
			}
		}()
		b.onCommand(msg.Payload())
	}
	token := b.client.Subscribe(topic, 1, handler)
	if token.WaitTimeout(b.cfg.ConnectTimeout) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (b *Broker) onCommand(payload []byte) {
	var req dispatch.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		logging.Warn("command json", "error", err)
		b.publishResult(CommandResult{Error: "invalid JSON"})
		return
	}
	id, err := b.dispatcher.Submit(req)
	if err != nil {
		logging.Warn("command rejected", "board", req.Board, "kind", req.Kind,
			"name", req.Name, "field", req.Field, "error", err)
		b.publishResult(CommandResult{Error: err.Error()})
		return
	}
	b.publishResult(CommandResult{ID: id})
}

func (b *Broker) publishResult(res CommandResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	topic := b.cfg.TopicPrefix + "/command/result"
	b.client.Publish(topic, 0, false, payload)
}
