// Package session implements the SCPI-lite line protocol spoken by FanPico
// controllers over a serial port.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotAvailable is used for identity fields of a device that never answered.
const NotAvailable = "N/A"

var (
	ErrTimeout        = errors.New("no reply before timeout")
	ErrMalformedReply = errors.New("malformed reply")
	ErrClosed         = errors.New("session closed")
)

// Session is an open connection to one controller.
type Session interface {
	// Query sends command and returns the reply. Single-line queries return the
	// first non-empty line; multi-line queries return every line received until
	// the device goes quiet, joined with "\n".
	Query(ctx context.Context, command string, multiLine bool) (string, error)
	Identity() Identity
	Close() error
}

// Opener opens a session to the device at address.
type Opener func(address string, baud int, timeout time.Duration) (Session, error)

// Identity is the reply to *IDN?, read once when the session is opened.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// UnknownIdentity returns the placeholder identity of an unconnected device.
func UnknownIdentity() Identity {
	return Identity{
		Manufacturer: NotAvailable,
		Model:        NotAvailable,
		Serial:       NotAvailable,
		Firmware:     NotAvailable,
	}
}

// ParseIdentity parses "manufacturer,model,serial,firmware".
func ParseIdentity(reply string) (Identity, error) {
	parts := strings.Split(strings.TrimSpace(reply), ",")
	if len(parts) < 4 {
		return UnknownIdentity(), fmt.Errorf("identity %q: %w", reply, ErrMalformedReply)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return Identity{
		Manufacturer: parts[0],
		Model:        parts[1],
		Serial:       parts[2],
		Firmware:     strings.Join(parts[3:], ","),
	}, nil
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %s (serial %s, firmware %s)", i.Manufacturer, i.Model, i.Serial, i.Firmware)
}

// ConnectError is returned when a device cannot be opened or identified.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError is returned when a query times out or the reply is unusable.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
