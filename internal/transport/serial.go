package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// pollStep is the per-Read timeout used to keep serial reads
// interruptible while assembling a line.
const pollStep = 20 * time.Millisecond

// Serial carries newline-delimited frames over a UART port.
type Serial struct {
	Address  string
	BaudRate int

	mu   sync.Mutex
	port serial.Port
	buf  bytes.Buffer // bytes read past the last newline
}

func NewSerial(address string, baud int) *Serial {
	return &Serial{Address: address, BaudRate: baud}
}

func (s *Serial) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
	port, err := serial.Open(&serial.Config{
		Address:  s.Address,
		BaudRate: s.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  pollStep,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Address, err)
	}
	s.port = port
	s.buf.Reset()
	return nil
}

func (s *Serial) Send(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return errors.New("serial: not connected")
	}
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	for len(line) > 0 {
		n, err := port.Write(line)
		if err != nil {
			return fmt.Errorf("write %s: %w", s.Address, err)
		}
		line = line[n:]
	}
	return nil
}

// Receive assembles one newline-terminated frame, polling the port in
// short steps so cancellation and the timeout are honored promptly.
func (s *Serial) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, errors.New("serial: not connected")
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)
	for {
		if line, ok := s.takeLine(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		n, err := port.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return nil, fmt.Errorf("read %s: %w", s.Address, err)
		}
	}
}

func (s *Serial) takeLine() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.buf.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, false
	}
	line := bytes.TrimRight(append([]byte(nil), data[:i]...), "\r")
	s.buf.Next(i + 1)
	return line, true
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) Describe() string {
	return fmt.Sprintf("serial %s@%d", s.Address, s.BaudRate)
}
