package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// maxDatagram bounds a single inbound frame.
const maxDatagram = 64 * 1024

// UDP carries one frame per datagram. "Connected" is nominal: dialing
// only pins the peer address, there is no handshake and no delivery
// guarantee, so sends are best-effort.
type UDP struct {
	Host string
	Port int

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDP(host string, port int) *UDP {
	return &UDP{Host: host, Port: port}
}

func (u *UDP) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.Host, u.Port))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", u.Host, u.Port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	u.conn = conn
	return nil
}

func (u *UDP) Send(data []byte) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return errors.New("udp: not connected")
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send %s:%d: %w", u.Host, u.Port, err)
	}
	return nil
}

func (u *UDP) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return nil, errors.New("udp: not connected")
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("receive %s:%d: %w", u.Host, u.Port, err)
	}
	return buf[:n], nil
}

func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *UDP) Describe() string {
	return fmt.Sprintf("udp %s:%d", u.Host, u.Port)
}
