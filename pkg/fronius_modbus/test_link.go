package fronius_modbus

import (
	"fmt"
	"sync"

	"github.com/simonvetter/modbus"
)

// TestRegisterLink is an in-memory RegisterLink backed by per-unit
// sparse register maps. Tests seed it with SetBlock, point failure
// injection at specific operations, and inspect the recorded writes.
// Safe for concurrent use so polling and commands can overlap in tests.
type TestRegisterLink struct {
	mu     sync.Mutex
	regs   map[uint8]map[uint16]uint16
	unitID uint8

	Opened bool
	Writes []RegisterWrite

	// Remaining failures per operation. Each failed call decrements
	// its counter.
	FailOpen  int
	FailRead  int
	FailWrite int
}

// RegisterWrite records one WriteRegisters call.
type RegisterWrite struct {
	UnitID uint8
	Addr   uint16
	Values []uint16
}

func NewTestRegisterLink() *TestRegisterLink {
	return &TestRegisterLink{regs: make(map[uint8]map[uint16]uint16)}
}

// SetBlock seeds consecutive registers for one unit starting at addr.
func (l *TestRegisterLink) SetBlock(unitID uint8, addr uint16, values []uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBlockLocked(unitID, addr, values)
}

func (l *TestRegisterLink) setBlockLocked(unitID uint8, addr uint16, values []uint16) {
	unit := l.regs[unitID]
	if unit == nil {
		unit = make(map[uint16]uint16)
		l.regs[unitID] = unit
	}
	for i, v := range values {
		unit[addr+uint16(i)] = v
	}
}

// SetRegister seeds a single register for one unit.
func (l *TestRegisterLink) SetRegister(unitID uint8, addr uint16, value uint16) {
	l.SetBlock(unitID, addr, []uint16{value})
}

// RegisterAt returns the current value of one register, following any
// writes recorded so far.
func (l *TestRegisterLink) RegisterAt(unitID uint8, addr uint16) (uint16, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.regs[unitID][addr]
	return v, ok
}

// WritesSnapshot copies the recorded writes for inspection from another
// goroutine.
func (l *TestRegisterLink) WritesSnapshot() []RegisterWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RegisterWrite(nil), l.Writes...)
}

func (l *TestRegisterLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailOpen > 0 {
		l.FailOpen--
		return fmt.Errorf("test link: open refused")
	}
	l.Opened = true
	return nil
}

func (l *TestRegisterLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Opened = false
	return nil
}

func (l *TestRegisterLink) SetUnitId(id uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unitID = id
	return nil
}

func (l *TestRegisterLink) ReadRegisters(addr uint16, quantity uint16, _ modbus.RegType) ([]uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailRead > 0 {
		l.FailRead--
		return nil, fmt.Errorf("test link: read error at %d", addr)
	}
	unit, ok := l.regs[l.unitID]
	if !ok {
		return nil, fmt.Errorf("test link: no registers for unit %d", l.unitID)
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = unit[addr+uint16(i)]
	}
	return out, nil
}

func (l *TestRegisterLink) WriteRegisters(addr uint16, values []uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrite > 0 {
		l.FailWrite--
		return fmt.Errorf("test link: write error at %d", addr)
	}
	l.Writes = append(l.Writes, RegisterWrite{
		UnitID: l.unitID,
		Addr:   addr,
		Values: append([]uint16(nil), values...),
	})
	l.setBlockLocked(l.unitID, addr, values)
	return nil
}

var _ RegisterLink = (*TestRegisterLink)(nil)
