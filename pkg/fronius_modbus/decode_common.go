package fronius_modbus

import (
	"go.uber.org/zap"
)

// readDeviceInfo decodes the SunSpec common block into the identity
// record for one device. It doubles as the "device present" probe: a
// failed read means the unit is absent.
func (h *Hub) readDeviceInfo(prefix string, unitID uint8) error {
	regs, err := h.session.ReadBlock(unitID, commonAddress, commonCount)
	if err != nil {
		return err
	}

	h.store.PutText(prefix+"manufacturer", DecodeString(regs[0:16]))
	h.store.PutText(prefix+"model", DecodeString(regs[16:32]))
	h.store.PutText(prefix+"options", DecodeString(regs[32:40]))
	h.store.PutText(prefix+"sw_version", DecodeString(regs[40:48]))
	h.store.PutText(prefix+"serial", DecodeString(regs[48:64]))
	h.store.PutNumber(prefix+"unit_id", DecodeUint16(regs, 64).Value())

	return nil
}

// readNameplate decodes the static capability block. A DER type of 82
// flags battery storage capability; the max charge/discharge rates
// become the runtime ceilings for watt-denominated rate commands.
func (h *Hub) readNameplate() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, nameplateAddress, nameplateCount)
	if err != nil {
		return err
	}

	derType := DecodeUint16(regs, 0)
	energyRating := DecodeUint16(regs, 17)
	maxChargeRate := DecodeUint16(regs, 21)
	maxDischargeRate := DecodeUint16(regs, 23)

	if derType.Value() == derTypeStorage {
		h.storageConfigured = true
	}
	h.store.PutNumber("WHRtg", energyRating.Value())
	h.store.PutNumber("MaxChaRte", maxChargeRate.Value())
	h.store.PutNumber("MaxDisChaRte", maxDischargeRate.Value())

	h.control.SetMaxRates(maxChargeRate.Value(), maxDischargeRate.Value())

	h.logger.Debug("nameplate read",
		zap.Float64("der_type", derType.Value()),
		zap.Float64("max_charge_rate_w", maxChargeRate.Value()),
		zap.Float64("max_discharge_rate_w", maxDischargeRate.Value()))
	return nil
}
