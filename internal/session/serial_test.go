package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort answers commands from a script, one chunk per Read call.
type fakePort struct {
	mu       sync.Mutex
	replies  map[string]string
	pending  []byte
	writes   []string
	writeErr error
	closed   int
}

func newFakePort(replies map[string]string) *fakePort {
	return &fakePort{replies: replies}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}
	// hand out at most 7 bytes to exercise line reassembly
	n := copy(b[:min(len(b), 7)], p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	cmd := strings.TrimSpace(string(b))
	p.writes = append(p.writes, cmd)
	if reply, ok := p.replies[cmd]; ok {
		p.pending = append(p.pending, reply...)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) ResetInputBuffer() error { return nil }

const idnReply = "TJKO Industries,FANPICO-0804,e660583883265039,1.6.0\r\n"

func TestOpenReadsIdentity(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: idnReply})

	s, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	require.NoError(t, err)

	id := s.Identity()
	assert.Equal(t, "TJKO Industries", id.Manufacturer)
	assert.Equal(t, "FANPICO-0804", id.Model)
	assert.Equal(t, "e660583883265039", id.Serial)
	assert.Equal(t, "1.6.0", id.Firmware)
	assert.Equal(t, []string{IdentifyCommand}, p.writes)
}

func TestOpenWithoutReplyIsConnectError(t *testing.T) {
	p := newFakePort(nil)

	_, err := newSerialSession("/dev/ttyACM0", p, 100*time.Millisecond)
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/ttyACM0", connErr.Address)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, p.closed, "port must be closed after a failed identify")
}

func TestOpenWithBadIdentity(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: "hello\r\n"})

	_, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestQueryMultiLine(t *testing.T) {
	status := "fan1,\"CPU Fan\",1200,20.0,45.0\r\n" +
		"\r\n" +
		"mbfan1,\"MB Fan 1\",900,15.0,30.0\r\n" +
		"sensor1,\"Sensor 1\",32.5\r\n"
	p := newFakePort(map[string]string{IdentifyCommand: idnReply, StatusCommand: status})

	s, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	require.NoError(t, err)

	reply, err := s.Query(context.Background(), StatusCommand, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fan1,\"CPU Fan\",1200,20.0,45.0",
		"mbfan1,\"MB Fan 1\",900,15.0,30.0",
		"sensor1,\"Sensor 1\",32.5",
	}, strings.Split(reply, "\n"))
}

func TestQueryTimeoutIsProtocolError(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: idnReply})

	s, err := newSerialSession("/dev/ttyACM0", p, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = s.Query(context.Background(), StatusCommand, true)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, StatusCommand, protoErr.Command)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestQueryWriteFailure(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: idnReply})
	s, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	require.NoError(t, err)

	p.writeErr = errors.New("input/output error")
	_, err = s.Query(context.Background(), StatusCommand, true)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.True(t, IsDisconnect(err))
}

func TestQueryAfterClose(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: idnReply})
	s, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, p.closed)

	_, err = s.Query(context.Background(), StatusCommand, true)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueryCanceledContext(t *testing.T) {
	p := newFakePort(map[string]string{IdentifyCommand: idnReply})
	s, err := newSerialSession("/dev/ttyACM0", p, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Query(ctx, StatusCommand, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{IdentifyCommand}, p.writes, "canceled query must not touch the line")
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		reply   string
		want    Identity
		wantErr bool
	}{
		{
			reply: "TJKO Industries,FANPICO-0804,e660583883265039,1.6.0",
			want:  Identity{"TJKO Industries", "FANPICO-0804", "e660583883265039", "1.6.0"},
		},
		{
			reply: " ACME , X1 , 42 , 2.0,beta ",
			want:  Identity{"ACME", "X1", "42", "2.0,beta"},
		},
		{reply: "ACME,X1", want: UnknownIdentity(), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseIdentity(tt.reply)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrMalformedReply, tt.reply)
		} else {
			assert.NoError(t, err, tt.reply)
		}
		assert.Equal(t, tt.want, got, tt.reply)
	}
}

func TestIsDisconnect(t *testing.T) {
	assert.False(t, IsDisconnect(nil))
	assert.True(t, IsDisconnect(&ProtocolError{Command: "READ?", Err: ErrClosed}))
	assert.True(t, IsDisconnect(errors.New("read /dev/ttyACM0: no such device")))
	assert.False(t, IsDisconnect(&ProtocolError{Command: "READ?", Err: ErrTimeout}))
}
