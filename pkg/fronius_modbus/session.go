package fronius_modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// RegisterLink is the underlying Modbus-TCP client primitive the session
// drives. Satisfied by *modbus.ModbusClient.
type RegisterLink interface {
	Open() error
	Close() error
	SetUnitId(id uint8) error
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	WriteRegisters(addr uint16, values []uint16) error
}

var _ RegisterLink = (*modbus.ModbusClient)(nil)

// Session owns the exclusive connection to one physical hub. All reads
// and writes are serialized under a single lock so frames never
// interleave on the TCP link, which also serializes polling cycles with
// commanded writes.
type Session struct {
	mu        sync.Mutex
	link      RegisterLink
	connected bool
	logger    *zap.Logger
}

func NewSession(link RegisterLink, logger *zap.Logger) *Session {
	return &Session{link: link, logger: logger}
}

// NewTCPSession builds a session over a Modbus-TCP client.
func NewTCPSession(host string, port uint, timeout time.Duration, logger *zap.Logger) (*Session, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return NewSession(client, logger), nil
}

// Connect establishes the TCP session. Idempotent.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.connected {
		return nil
	}
	if err := s.link.Open(); err != nil {
		s.logger.Warn("modbus connect failed", zap.Error(err))
		return err
	}
	s.connected = true
	s.logger.Info("modbus connected")
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.link.Close()
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ReadBlock reads exactly count holding registers from unitID at addr.
// If the session is down, one reconnect is attempted first; a reconnect
// failure fails the read immediately without consuming the retry budget.
// A transient I/O failure is retried exactly once with the original
// request parameters before the error is surfaced.
func (s *Session) ReadBlock(unitID uint8, addr uint16, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		s.logger.Info("modbus client is not connected, trying to reconnect")
		if err := s.connectLocked(); err != nil {
			return nil, fmt.Errorf("reconnect before read of %d@%d: %w", count, addr, err)
		}
	}
	if err := s.link.SetUnitId(unitID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		regs, err := s.link.ReadRegisters(addr, count, modbus.HOLDING_REGISTER)
		if err == nil {
			if len(regs) != int(count) {
				return nil, fmt.Errorf("short read at %d: want %d registers, got %d", addr, count, len(regs))
			}
			return regs, nil
		}
		lastErr = err
		if attempt == 0 {
			s.logger.Debug("read error, retrying",
				zap.Uint8("unit_id", unitID), zap.Uint16("address", addr),
				zap.Uint16("count", count), zap.Error(err))
		}
	}
	// assume the link is bad so the next cycle reconnects
	s.dropLinkLocked()
	s.logger.Error("error reading registers",
		zap.Uint8("unit_id", unitID), zap.Uint16("address", addr),
		zap.Uint16("count", count), zap.Error(lastErr))
	return nil, lastErr
}

// WriteBlock writes one or more registers atomically, with the same
// reconnect and single-retry discipline as ReadBlock.
func (s *Session) WriteBlock(unitID uint8, addr uint16, values []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		s.logger.Info("modbus client is not connected, trying to reconnect")
		if err := s.connectLocked(); err != nil {
			return fmt.Errorf("reconnect before write at %d: %w", addr, err)
		}
	}
	if err := s.link.SetUnitId(unitID); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := s.link.WriteRegisters(addr, values)
		if err == nil {
			s.logger.Debug("wrote registers",
				zap.Uint8("unit_id", unitID), zap.Uint16("address", addr),
				zap.Uint16s("values", values))
			return nil
		}
		lastErr = err
		if attempt == 0 {
			s.logger.Debug("write error, retrying",
				zap.Uint8("unit_id", unitID), zap.Uint16("address", addr), zap.Error(err))
		}
	}
	s.dropLinkLocked()
	s.logger.Error("error writing registers",
		zap.Uint8("unit_id", unitID), zap.Uint16("address", addr),
		zap.Int("count", len(values)), zap.Error(lastErr))
	return lastErr
}

// dropLinkLocked closes the link and marks the session down. Open on
// the modbus client dials a fresh socket without closing the previous
// one, so the old socket must be released here or it leaks.
func (s *Session) dropLinkLocked() {
	if err := s.link.Close(); err != nil {
		s.logger.Debug("error closing modbus link", zap.Error(err))
	}
	s.connected = false
}

// WriteRegister writes a single register.
func (s *Session) WriteRegister(unitID uint8, addr uint16, value uint16) error {
	return s.WriteBlock(unitID, addr, []uint16{value})
}
