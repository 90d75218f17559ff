package fronius_modbus

// readStorage decodes the battery storage block and feeds the observed
// control registers into the storage control state machine.
//
// The persisted limit fields (discharge_limit, charge_limit,
// grid_charge_power, grid_discharge_power) are only rewritten when the
// basic control mode register changed since the previous cycle. The
// inverter rounds the rate registers on its own schedule, so updating
// them on every cycle would overwrite a commanded value with a stale
// echo while a mode change is still settling.
func (h *Hub) readStorage() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, storageAddress, storageCount)
	if err != nil {
		return err
	}

	h.store.PutText("grid_charging", GridChargeStatusString(regs[15]))
	h.store.PutText("charge_status", ChargeStatusString(regs[9]))

	h.calc("minimum_reserve", DecodeUint16(regs, 5), NumberOf(-2), 2)
	h.calc("discharging_power", DecodeInt16(regs, 10), NumberOf(-2), 2)
	h.calc("charging_power", DecodeInt16(regs, 11), NumberOf(-2), 2)
	h.calc("soc", DecodeUint16(regs, 6), NumberOf(-2), 2)
	h.calc("max_charge", DecodeUint16(regs, 0), NumberOf(0), 0)
	h.calc("max_charge_rate", DecodeUint16(regs, 1), NumberOf(0), 0)
	h.calc("max_discharge_rate", DecodeUint16(regs, 2), NumberOf(0), 0)

	mode := ControlMode(regs[3])
	dischargePower := int16(regs[10])
	chargePower := int16(regs[11])

	previous, seen := h.store.TextAt("control_mode")
	if !seen || previous != mode.String() {
		if dischargePower >= 0 {
			h.store.PutNumber("discharge_limit", float64(dischargePower)/100)
			h.store.PutNumber("grid_charge_power", 0)
		} else {
			h.store.PutNumber("grid_charge_power", float64(-dischargePower)/100)
			h.store.PutNumber("discharge_limit", 0)
		}
		if chargePower >= 0 {
			h.store.PutNumber("charge_limit", float64(chargePower)/100)
			h.store.PutNumber("grid_discharge_power", 0)
		} else {
			h.store.PutNumber("grid_discharge_power", float64(-chargePower)/100)
			h.store.PutNumber("charge_limit", 0)
		}
		h.store.PutText("control_mode", mode.String())
	}

	h.control.Observe(mode, dischargePower, chargePower, h.store.NumberAt("soc"))
	return nil
}
