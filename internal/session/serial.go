package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// IdentifyCommand asks the device for manufacturer, model, serial and firmware.
	IdentifyCommand = "*IDN?"
	// StatusCommand returns one line per fan, mbfan and sensor channel.
	StatusCommand = "READ?"

	readStep       = 50 * time.Millisecond
	defaultLineGap = 100 * time.Millisecond
)

// port is the subset of serial.Port used by SerialSession.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialSession is a Session over a serial line. Commands are terminated with
// "\n"; replies are CR/LF terminated lines.
type SerialSession struct {
	address  string
	port     port
	timeout  time.Duration
	lineGap  time.Duration
	identity Identity

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// Open opens the serial device at address and identifies it. It satisfies Opener.
func Open(address string, baud int, timeout time.Duration) (Session, error) {
	p, err := serial.Open(address, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	s, err := newSerialSession(address, p, timeout)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSerialSession(address string, p port, timeout time.Duration) (*SerialSession, error) {
	s := &SerialSession{
		address: address,
		port:    p,
		timeout: timeout,
		lineGap: defaultLineGap,
	}

	if err := p.SetReadTimeout(readStep); err != nil {
		_ = p.Close()
		return nil, &ConnectError{Address: address, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, &ConnectError{Address: address, Err: fmt.Errorf("flush input: %w", err)}
	}

	reply, err := s.Query(context.Background(), IdentifyCommand, false)
	if err != nil {
		_ = p.Close()
		return nil, &ConnectError{Address: address, Err: err}
	}
	id, err := ParseIdentity(reply)
	if err != nil {
		_ = p.Close()
		return nil, &ConnectError{Address: address, Err: err}
	}
	s.identity = id

	return s, nil
}

func (s *SerialSession) Identity() Identity {
	return s.identity
}

// Query writes command and reads the reply. ctx is consulted before the command
// is written; an exchange that has started always runs to completion so the
// line protocol stays in sync.
func (s *SerialSession) Query(ctx context.Context, command string, multiLine bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", &ProtocolError{Command: command, Err: ErrClosed}
	}

	s.pending = s.pending[:0]
	if err := s.port.ResetInputBuffer(); err != nil {
		return "", &ProtocolError{Command: command, Err: err}
	}
	if _, err := s.port.Write([]byte(command + "\n")); err != nil {
		return "", &ProtocolError{Command: command, Err: fmt.Errorf("write: %w", err)}
	}

	deadline := time.Now().Add(s.timeout)
	var first string
	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return "", &ProtocolError{Command: command, Err: err}
		}
		if strings.TrimSpace(line) != "" {
			first = line
			break
		}
	}
	if !multiLine {
		return first, nil
	}

	lines := []string{first}
	for {
		line, err := s.readLine(time.Now().Add(s.lineGap))
		if errors.Is(err, ErrTimeout) {
			if rest := strings.TrimSpace(string(s.pending)); rest != "" {
				lines = append(lines, rest)
			}
			s.pending = s.pending[:0]
			break
		}
		if err != nil {
			return "", &ProtocolError{Command: command, Err: err}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n"), nil
}

func (s *SerialSession) readLine(deadline time.Time) (string, error) {
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := strings.TrimRight(string(s.pending[:i]), "\r")
			s.pending = s.pending[i+1:]
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrTimeout
		}
		n, err := s.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

// Close releases the port. Calling it more than once is harmless.
func (s *SerialSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// IsDisconnect reports whether err means the device went away.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return isDisconnectCode(portErr.Code())
	}
	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return isDisconnectCode(portErrValue.Code())
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe")
}

func isDisconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

// ListPorts returns the serial ports present on this machine, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
