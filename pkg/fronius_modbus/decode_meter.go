package fronius_modbus

import (
	"math"

	"go.uber.org/zap"
)

// readMeter decodes one smart meter block. For the primary meter it also
// derives the house load and the grid connection status.
func (h *Hub) readMeter(prefix string, unitID uint8) error {
	regs, err := h.session.ReadBlock(unitID, meterAddress, meterCount)
	if err != nil {
		return err
	}

	voltageSF := DecodeInt16(regs, 13)
	h.calc(prefix+"PhVphA", DecodeInt16(regs, 6), voltageSF, 1)
	h.calc(prefix+"PhVphB", DecodeInt16(regs, 7), voltageSF, 1)
	h.calc(prefix+"PhVphC", DecodeInt16(regs, 8), voltageSF, 1)
	h.calc(prefix+"PPV", DecodeInt16(regs, 9), voltageSF, 1)

	meterFrequency := CalculateValue(DecodeInt16(regs, 14), DecodeInt16(regs, 15), 2)
	meterPower := CalculateValue(DecodeInt16(regs, 16), DecodeInt16(regs, 20), 2)

	energySF := DecodeInt16(regs, 52)
	h.calc(prefix+"exported", DecodeUint32(regs, 36), energySF, 2)
	h.calc(prefix+"imported", DecodeUint32(regs, 44), energySF, 2)

	if meterFrequency.Defined() {
		h.store.PutNumber(prefix+"line_frequency", meterFrequency.Value())
	}
	if meterPower.Defined() {
		h.store.PutNumber(prefix+"power", meterPower.Value())
	}

	if prefix == "m1_" {
		h.deriveLoad(meterPower)
		h.deriveGridStatus(meterFrequency)
	}

	return nil
}

// deriveLoad computes house load = meter power + inverter AC power.
// Both operands must have been read this session, else the field is
// left untouched. A single missing operand gets a warning; when both
// sides are unreadable the link is down and the decoders have already
// logged it.
func (h *Hub) deriveLoad(meterPower Number) {
	inverterPower := h.store.NumberAt("acpower")
	switch {
	case meterPower.Defined() && inverterPower.Defined():
		load := math.Round((meterPower.Value()+inverterPower.Value())*100) / 100
		h.store.PutNumber("load", load)
	case meterPower.Defined():
		h.logger.Warn("inverter acpower not numeric")
	case inverterPower.Defined():
		h.logger.Warn("meter acpower not numeric")
	}
}

// deriveGridStatus infers the grid connection state from the inverter
// line frequency, falling back to the meter frequency when the inverter
// side reads as link-down (< 1 Hz). Combinations outside the known
// bands (e.g. exactly 52 Hz) are explicitly undetermined.
func (h *Hub) deriveGridStatus(meterFrequency Number) {
	inverterFrequency := h.store.NumberAt("line_frequency")

	status, ok := gridStatusFrom(inverterFrequency, meterFrequency)
	if !ok {
		h.logger.Error("could not establish grid connection status",
			zap.Float64("meter_frequency", meterFrequency.Value()),
			zap.Float64("inverter_frequency", inverterFrequency.Value()))
		h.store.PutText("grid_status", gridStatusUndetermined)
		return
	}
	h.store.PutText("grid_status", status.String())
}

func gridStatusFrom(inverterFrequency, meterFrequency Number) (GridStatus, bool) {
	if !inverterFrequency.Defined() {
		return 0, false
	}
	f := inverterFrequency.Value()
	switch {
	case f > 48 && f < 52:
		return GridStatusOnGrid, true
	case f > 52 && f < 54:
		return GridStatusOverFrequency, true
	case f < 1:
		if !meterFrequency.Defined() {
			return 0, false
		}
		switch {
		case meterFrequency.Value() > 48:
			return GridStatusBackupPower, true
		case meterFrequency.Value() < 1:
			return GridStatusNoConnection, true
		}
	}
	return 0, false
}
