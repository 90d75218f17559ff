package fronius_modbus

// readInverterTelemetry decodes the inverter AC block: phase voltages,
// power, frequency, lifetime energy, cabinet temperature, the vendor
// operating state and the vendor event flags.
func (h *Hub) readInverterTelemetry() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, inverterAddress, inverterCount)
	if err != nil {
		return err
	}

	voltageSF := DecodeInt16(regs, 11)
	h.calc("PPVphAB", DecodeUint16(regs, 5), voltageSF, 2)
	h.calc("PPVphBC", DecodeUint16(regs, 6), voltageSF, 2)
	h.calc("PPVphCA", DecodeUint16(regs, 7), voltageSF, 2)
	h.calc("PhVphA", DecodeUint16(regs, 8), voltageSF, 2)
	h.calc("PhVphB", DecodeUint16(regs, 9), voltageSF, 2)
	h.calc("PhVphC", DecodeUint16(regs, 10), voltageSF, 2)

	h.calc("acpower", DecodeInt16(regs, 12), DecodeInt16(regs, 13), 2)
	h.calc("line_frequency", DecodeInt16(regs, 14), DecodeInt16(regs, 15), 2)
	h.calc("acenergy", DecodeUint32(regs, 22), DecodeInt16(regs, 24), 2)
	h.calc("tempcab", DecodeInt16(regs, 31), DecodeInt16(regs, 35), 2)

	statusVendor := uint16(DecodeUint16(regs, 37).Value())
	h.store.PutText("statusvendor", InverterStatusString(statusVendor))
	h.store.PutNumber("statusvendor_id", float64(statusVendor))

	events := uint32(DecodeUint32(regs, 44).Value())
	h.store.PutText("events2", BitmaskToString(events, inverterEventLabels, "None", 255, 32))

	return nil
}

// readInverterStatus decodes the operating status block: connection
// states and the active-throttling flags.
func (h *Hub) readInverterStatus() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, statusAddress, statusCount)
	if err != nil {
		return err
	}

	h.store.PutText("pv_connection", ConnectionStatusString(regs[0]))
	h.store.PutText("storage_connection", ConnectionStatusString(regs[1]))
	h.store.PutText("ecp_connection", ECPConnectionStatusString(regs[2]))

	active := uint32(DecodeUint32(regs, 33).Value())
	h.store.PutText("inverter_controls", BitmaskToString(active, inverterControlLabels, "Normal", 255, 16))

	return nil
}

// readInverterSettings decodes the basic settings block.
func (h *Hub) readInverterSettings() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, settingsAddress, settingsCount)
	if err != nil {
		return err
	}

	h.calc("max_power", DecodeUint16(regs, 0), DecodeInt16(regs, 20), 2)

	return nil
}

// readInverterControls decodes the immediate-controls block enable
// flags.
func (h *Hub) readInverterControls() error {
	regs, err := h.session.ReadBlock(h.params.InverterUnitID, controlsAddress, controlsCount)
	if err != nil {
		return err
	}

	h.store.PutText("Conn", ControlStatusString(regs[2]))
	h.store.PutText("WMaxLim_Ena", ControlStatusString(regs[7]))
	h.store.PutText("OutPFSet_Ena", ControlStatusString(regs[12]))
	h.store.PutText("VArPct_Ena", ControlStatusString(regs[20]))

	return nil
}
