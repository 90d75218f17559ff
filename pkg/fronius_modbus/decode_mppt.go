package fronius_modbus

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnsupportedMPPTLayout is returned when the tracker block does not
// report the expected four modules.
var ErrUnsupportedMPPTLayout = errors.New("unsupported mppt module layout")

// mpptModules is the only supported layout: modules 1-2 feed PV,
// modules 3-4 feed the battery string.
const mpptModules = 4

// readMPPT decodes the four tracked DC modules and derives the PV and
// storage power flows from the fixed wiring convention. Any other
// module count aborts the decode without writing partial data.
func (h *Hub) readMPPT() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, mpptAddress, mpptCount)
	if err != nil {
		return err
	}

	powerSF := DecodeInt16(regs, 2)
	energySF := DecodeInt16(regs, 3)
	n := DecodeUint16(regs, 6)
	if n.Value() != mpptModules {
		h.logger.Error("only 4 mppt modules are supported", zap.Float64("found", n.Value()))
		return ErrUnsupportedMPPTLayout
	}

	var power [mpptModules]Number
	for i := 0; i < mpptModules; i++ {
		base := 19 + i*20
		power[i] = CalculateValue(DecodeUint16(regs, base), powerSF, 2)
		energy := CalculateValue(DecodeUint32(regs, base+1), energySF, 2)

		if power[i].Defined() {
			h.store.PutNumber(fmt.Sprintf("mppt%d_power", i+1), power[i].Value())
		}
		if energy.Defined() {
			h.store.PutNumber(fmt.Sprintf("mppt%d_lfte", i+1), energy.Value())
		}
	}

	if power[0].Defined() && power[1].Defined() {
		h.store.PutNumber("pv_power", power[0].Value()+power[1].Value())
	}
	if power[2].Defined() && power[3].Defined() {
		h.store.PutNumber("storage_power", power[3].Value()-power[2].Value())
	}

	return nil
}
