package fronius_modbus

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnsupportedControlMode = errors.New("unsupported storage control mode")
	ErrReserveTooLow          = errors.New("minimum reserve below 5%")
	ErrUnknownCommand         = errors.New("unknown storage command")
)

// Command is a storage control operation. The set is closed: every
// variant has exactly one handler in Apply.
type Command int

const (
	CommandRestoreDefaults Command = iota
	CommandAuto
	CommandCharge
	CommandDischarge
	CommandChargeDischarge
	CommandGridCharge
	CommandGridDischarge
	CommandBlockDischarge
	CommandBlockCharge
	CommandCalibrate
)

var commandNames = map[string]Command{
	"restore_defaults": CommandRestoreDefaults,
	"auto":             CommandAuto,
	"charge":           CommandCharge,
	"discharge":        CommandDischarge,
	"charge_discharge": CommandChargeDischarge,
	"grid_charge":      CommandGridCharge,
	"grid_discharge":   CommandGridDischarge,
	"block_discharge":  CommandBlockDischarge,
	"block_charge":     CommandBlockCharge,
	"calibrate":        CommandCalibrate,
}

// CommandNames lists every accepted command name, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(commandNames))
	for name := range commandNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ParseCommand(name string) (Command, error) {
	cmd, ok := commandNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd, nil
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// StorageControl tracks the battery operating mode and issues the
// register writes that change it. The extended mode is inferred once at
// first observation and cached until explicitly invalidated; the
// calibration failsafes run every cycle while it reads Calibrate.
type StorageControl struct {
	session        *Session
	store          *DataStore
	inverterUnitID uint8
	logger         *zap.Logger

	mu                sync.Mutex
	extMode           ExtendedControlMode
	extModeSet        bool
	calibrationHalted bool
	maxChargeRateW    float64
	maxDischargeRateW float64
}

func NewStorageControl(session *Session, store *DataStore, inverterUnitID uint8, logger *zap.Logger) *StorageControl {
	return &StorageControl{
		session:        session,
		store:          store,
		inverterUnitID: inverterUnitID,
		logger:         logger,
		// nameplate ceilings until the real ones are read
		maxChargeRateW:    11000,
		maxDischargeRateW: 11000,
	}
}

// SetMaxRates installs the nameplate charge/discharge ceilings used to
// clamp watt-denominated rate requests.
func (c *StorageControl) SetMaxRates(chargeW, dischargeW float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chargeW > 0 {
		c.maxChargeRateW = chargeW
	}
	if dischargeW > 0 {
		c.maxDischargeRateW = dischargeW
	}
}

func (c *StorageControl) ExtendedMode() (ExtendedControlMode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extMode, c.extModeSet
}

// deriveExtendedMode computes the extended mode from the raw control
// mode and the raw (hundredths-of-percent) charge/discharge rates.
// First match wins.
func deriveExtendedMode(raw ControlMode, dischargePower, chargePower int16) ExtendedControlMode {
	switch {
	case raw == ControlModeAuto:
		return ExtModeAuto
	case (raw == ControlModeCharge || raw == ControlModeChargeDischarge) && chargePower == 0:
		return ExtModeCalibrate
	case raw == ControlModeCharge:
		return ExtModeCharge
	case (raw == ControlModeDischarge || raw == ControlModeChargeDischarge) && dischargePower < 0:
		return ExtModeGridDischarge
	case (raw == ControlModeDischarge || raw == ControlModeChargeDischarge) && chargePower < 0:
		return ExtModeGridCharge
	case (raw == ControlModeDischarge || raw == ControlModeChargeDischarge) && dischargePower == 0:
		return ExtModeBlockDischarge
	case raw == ControlModeDischarge:
		return ExtModeDischarge
	default:
		return ExtModeChargeDischarge
	}
}

// Observe is called once per storage decode with the raw register
// values. It freezes the extended mode on first observation and runs the
// calibration failsafes.
func (c *StorageControl) Observe(raw ControlMode, dischargePower, chargePower int16, soc Number) {
	c.mu.Lock()
	if !c.extModeSet {
		c.extMode = deriveExtendedMode(raw, dischargePower, chargePower)
		c.extModeSet = true
		c.store.PutText("ext_control_mode", c.extMode.String())
	}
	calibrating := c.extMode == ExtModeCalibrate
	c.mu.Unlock()

	if calibrating {
		c.calibrationFailsafe(raw, soc)
	}
}

// calibrationFailsafe protects a battery stuck in a calibration cycle:
// a discharge-oriented calibration that reaches 100% SoC is halted, and
// a charge/discharge calibration that drains to 5% is returned to auto
// with a 30% reserve.
func (c *StorageControl) calibrationFailsafe(raw ControlMode, soc Number) {
	if !soc.Defined() {
		return
	}
	switch {
	case raw == ControlModeDischarge && soc.Value() == 100:
		c.mu.Lock()
		halted := c.calibrationHalted
		c.calibrationHalted = true
		c.mu.Unlock()
		if halted {
			return
		}
		c.logger.Error("calibration hit 100%, halting discharge")
		if err := c.changeSettings(ControlModeDischarge, 100, 0, 0, 0, nil); err != nil {
			c.logger.Error("calibration halt failed", zap.Error(err))
		}
	case raw == ControlModeChargeDischarge && soc.Value() <= 5:
		c.logger.Error("calibration hit 5%, returning to auto mode")
		if err := c.Apply(CommandAuto); err != nil {
			c.logger.Error("calibration auto restore failed", zap.Error(err))
			return
		}
		if err := c.SetMinimumReserve(30); err != nil {
			c.logger.Error("calibration reserve restore failed", zap.Error(err))
		}
	default:
		c.mu.Lock()
		c.calibrationHalted = false
		c.mu.Unlock()
	}
}

// Apply executes a commanded mode change: raw mode register, charge
// rate, discharge rate, cached limit fields, and optionally the minimum
// reserve. The cached extended mode is re-pointed at the commanded mode.
func (c *StorageControl) Apply(cmd Command) error {
	reserve := func(v float64) *float64 { return &v }
	switch cmd {
	case CommandRestoreDefaults:
		c.setExtendedMode(ExtModeAuto)
		return c.changeSettings(ControlModeAuto, 100, 100, 0, 0, reserve(7))
	case CommandAuto:
		c.setExtendedMode(ExtModeAuto)
		return c.changeSettings(ControlModeAuto, 100, 100, 0, 0, nil)
	case CommandCharge:
		c.setExtendedMode(ExtModeCharge)
		return c.changeSettings(ControlModeCharge, 100, 100, 0, 0, nil)
	case CommandDischarge:
		c.setExtendedMode(ExtModeDischarge)
		return c.changeSettings(ControlModeDischarge, 100, 100, 0, 0, nil)
	case CommandChargeDischarge:
		c.setExtendedMode(ExtModeChargeDischarge)
		return c.changeSettings(ControlModeChargeDischarge, 100, 100, 0, 0, nil)
	case CommandGridCharge:
		c.setExtendedMode(ExtModeGridCharge)
		return c.changeSettings(ControlModeDischarge, 100, 0, 0, 0, nil)
	case CommandGridDischarge:
		c.setExtendedMode(ExtModeGridDischarge)
		return c.changeSettings(ControlModeCharge, 0, 100, 0, 0, nil)
	case CommandBlockDischarge:
		c.setExtendedMode(ExtModeBlockDischarge)
		return c.changeSettings(ControlModeChargeDischarge, 100, 0, 0, 0, nil)
	case CommandBlockCharge:
		c.setExtendedMode(ExtModeBlockDischarge)
		return c.changeSettings(ControlModeChargeDischarge, 0, 100, 0, 0, nil)
	case CommandCalibrate:
		c.setExtendedMode(ExtModeCalibrate)
		return c.changeSettings(ControlModeDischarge, 100, -100, 100, 0, nil)
	default:
		c.logger.Error("unknown storage command", zap.Int("command", int(cmd)))
		return ErrUnknownCommand
	}
}

func (c *StorageControl) setExtendedMode(mode ExtendedControlMode) {
	c.mu.Lock()
	c.extMode = mode
	c.extModeSet = true
	c.calibrationHalted = false
	c.mu.Unlock()
	c.store.PutText("ext_control_mode", mode.String())
}

// changeSettings composes a mode change: mode register, charge rate,
// discharge rate, then the cached limit fields. A grid-directed mode
// zeroes the limit field it repurposes as a power target.
func (c *StorageControl) changeSettings(mode ControlMode, chargeLimit, dischargeLimit,
	gridChargePower, gridDischargePower float64, minimumReserve *float64) error {

	if err := c.setControlMode(mode); err != nil {
		return err
	}
	if err := c.setChargeRate(chargeLimit); err != nil {
		return err
	}
	if err := c.setDischargeRate(dischargeLimit); err != nil {
		return err
	}

	c.mu.Lock()
	ext := c.extMode
	c.mu.Unlock()
	if ext == ExtModeGridDischarge {
		c.store.PutNumber("discharge_limit", 0)
	} else {
		c.store.PutNumber("discharge_limit", dischargeLimit)
	}
	if ext == ExtModeGridCharge {
		c.store.PutNumber("charge_limit", 0)
	} else {
		c.store.PutNumber("charge_limit", chargeLimit)
	}
	c.store.PutNumber("grid_charge_power", gridChargePower)
	c.store.PutNumber("grid_discharge_power", gridDischargePower)

	if minimumReserve != nil {
		return c.SetMinimumReserve(*minimumReserve)
	}
	return nil
}

func (c *StorageControl) setControlMode(mode ControlMode) error {
	if !mode.Valid() {
		c.logger.Error("attempted to set unsupported storage control mode", zap.Uint16("mode", uint16(mode)))
		return ErrUnsupportedControlMode
	}
	return c.session.WriteRegister(c.inverterUnitID, storageControlModeAddress, uint16(mode))
}

// SetMinimumReserve writes the minimum state-of-charge reserve percent.
// Requests below 5% are rejected without a write.
func (c *StorageControl) SetMinimumReserve(percent float64) error {
	if percent < 5 {
		c.logger.Error("attempted to set minimum reserve below 5%", zap.Float64("percent", percent))
		return ErrReserveTooLow
	}
	return c.session.WriteRegister(c.inverterUnitID, minimumReserveAddress, uint16(math.Round(percent*100)))
}

func (c *StorageControl) setChargeRate(percent float64) error {
	return c.session.WriteRegister(c.inverterUnitID, chargeRateAddress, EncodeSignedPercent(percent))
}

func (c *StorageControl) setDischargeRate(percent float64) error {
	return c.session.WriteRegister(c.inverterUnitID, dischargeRateAddress, EncodeSignedPercent(percent))
}

// SetChargeRateW sets the charge rate from a watt request, clamped to
// the nameplate maximum before conversion to a ±100% register value.
func (c *StorageControl) SetChargeRateW(watts float64) error {
	c.mu.Lock()
	max := c.maxChargeRateW
	c.mu.Unlock()
	return c.setChargeRate(clampPercent(watts, max))
}

// SetDischargeRateW sets the discharge rate from a watt request, clamped
// to the nameplate maximum.
func (c *StorageControl) SetDischargeRateW(watts float64) error {
	c.mu.Lock()
	max := c.maxDischargeRateW
	c.mu.Unlock()
	return c.setDischargeRate(clampPercent(watts, max))
}

func clampPercent(watts, maxWatts float64) float64 {
	switch {
	case watts > maxWatts:
		return 100
	case watts < -maxWatts:
		return -100
	default:
		return watts / maxWatts * 100
	}
}
