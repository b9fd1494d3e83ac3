// Package wire defines the JSON frame envelope exchanged with boards.
// A frame carries a sequence number for request/response correlation,
// a timestamp, and a CRC-32 over the serialized state body. Serial
// links carry one frame per line, UDP one frame per datagram. The
// layout is versioned via the "v" field; boards and backend are
// deployed independently.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

const Version = 1

// StateMap is the shared body shape: kind -> name -> field -> value.
// Poll requests carry channels (and desired values for actuators),
// responses carry telemetry readings.
type StateMap map[string]map[string]map[string]any

type Frame struct {
	Version   int
	Seq       uint64
	Timestamp float64 // seconds, sender-relative
	State     StateMap
}

type envelope struct {
	Version   int             `json:"v"`
	Seq       uint64          `json:"seq"`
	Timestamp float64         `json:"ts"`
	State     json.RawMessage `json:"state"`
	Sum       uint32          `json:"sum"`
}

var (
	ErrChecksum = errors.New("frame checksum mismatch")
	ErrVersion  = errors.New("unsupported frame version")
)

// Marshal serializes a frame, computing the checksum over the state
// body bytes exactly as they appear in the envelope.
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f.State)
	if err != nil {
		return nil, err
	}
	v := f.Version
	if v == 0 {
		v = Version
	}
	return json.Marshal(envelope{
		Version:   v,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		State:     body,
		Sum:       crc32.ChecksumIEEE(body),
	})
}

// Unmarshal parses and verifies one frame. Checksum or version
// failures are frame-local: the caller drops the frame and keeps
// polling.
func Unmarshal(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("frame envelope: %w", err)
	}
	if env.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrVersion, env.Version)
	}
	if crc32.ChecksumIEEE(env.State) != env.Sum {
		return Frame{}, ErrChecksum
	}
	f := Frame{Version: env.Version, Seq: env.Seq, Timestamp: env.Timestamp}
	if err := json.Unmarshal(env.State, &f.State); err != nil {
		return Frame{}, fmt.Errorf("frame state: %w", err)
	}
	return f, nil
}

// Set writes one device field into the map, allocating levels as needed.
func (m StateMap) Set(kind, name, field string, value any) {
	byName := m[kind]
	if byName == nil {
		byName = make(map[string]map[string]any)
		m[kind] = byName
	}
	fields := byName[name]
	if fields == nil {
		fields = make(map[string]any)
		byName[name] = fields
	}
	fields[field] = value
}
