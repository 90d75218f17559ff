package fronius_modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestSession() (*Session, *TestRegisterLink) {
	link := NewTestRegisterLink()
	return NewSession(link, zap.NewNop()), link
}

func TestSessionConnectIdempotent(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()

	assert.NoError(s.Connect())
	assert.True(s.Connected())
	assert.NoError(s.Connect(), "second connect is a no-op")

	link.FailOpen = 1
	assert.NoError(s.Connect(), "already connected, open not called again")
}

func TestSessionReadRetriesOnce(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()
	link.SetBlock(1, 40071, []uint16{10, 20, 30})
	assert.NoError(s.Connect())

	link.FailRead = 1
	regs, err := s.ReadBlock(1, 40071, 3)
	assert.NoError(err, "single transient failure is absorbed")
	assert.Equal(regs, []uint16{10, 20, 30})
	assert.True(s.Connected())
}

func TestSessionReadFailsAfterRetry(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()
	link.SetBlock(1, 40071, []uint16{10})
	assert.NoError(s.Connect())

	link.FailRead = 2
	_, err := s.ReadBlock(1, 40071, 1)
	assert.Error(err, "two consecutive failures surface")
	assert.False(s.Connected(), "session marked down after final failure")
	assert.False(link.Opened, "link closed so the reconnect does not leak a socket")

	// The link is still seeded, so the next read reconnects and succeeds.
	regs, err := s.ReadBlock(1, 40071, 1)
	assert.NoError(err)
	assert.Equal(regs, []uint16{10})
	assert.True(s.Connected())
}

func TestSessionReconnectFailureDoesNotConsumeRetry(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()
	link.SetBlock(1, 40071, []uint16{10})

	link.FailOpen = 1
	_, err := s.ReadBlock(1, 40071, 1)
	assert.Error(err, "reconnect failure fails the read immediately")
	assert.False(s.Connected())

	link.FailRead = 1
	regs, err := s.ReadBlock(1, 40071, 1)
	assert.NoError(err, "retry budget untouched by earlier reconnect failure")
	assert.Equal(regs, []uint16{10})
}

func TestSessionWriteRetriesOnce(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()
	link.SetBlock(1, 40348, []uint16{0})
	assert.NoError(s.Connect())

	link.FailWrite = 1
	assert.NoError(s.WriteRegister(1, 40348, 2))

	v, ok := link.RegisterAt(1, 40348)
	assert.True(ok)
	assert.Equal(v, uint16(2))

	link.FailWrite = 2
	assert.Error(s.WriteRegister(1, 40348, 3))
	assert.False(s.Connected())
	assert.False(link.Opened, "link closed after final write failure")
}

func TestSessionClose(t *testing.T) {
	assert := assert.New(t)
	s, link := newTestSession()

	assert.NoError(s.Close(), "closing a closed session is a no-op")
	assert.NoError(s.Connect())
	assert.NoError(s.Close())
	assert.False(link.Opened)
}
