package fronius_modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestControl() (*StorageControl, *DataStore, *TestRegisterLink) {
	link := NewTestRegisterLink()
	link.SetBlock(1, storageAddress, make([]uint16, storageCount))
	session := NewSession(link, zap.NewNop())
	store := NewDataStore()
	return NewStorageControl(session, store, 1, zap.NewNop()), store, link
}

func TestDeriveExtendedMode(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		name string
		raw  ControlMode
		dp   int16
		cp   int16
		want ExtendedControlMode
	}{
		{"auto wins regardless of rates", ControlModeAuto, -100, 0, ExtModeAuto},
		{"charge with zero charge rate is calibration", ControlModeCharge, 10000, 0, ExtModeCalibrate},
		{"charge/discharge with zero charge rate is calibration", ControlModeChargeDischarge, 10000, 0, ExtModeCalibrate},
		{"plain charge", ControlModeCharge, 10000, 10000, ExtModeCharge},
		{"negative discharge rate is grid discharge", ControlModeDischarge, -5000, 10000, ExtModeGridDischarge},
		{"charge/discharge with negative discharge rate", ControlModeChargeDischarge, -5000, 10000, ExtModeGridDischarge},
		{"negative charge rate is grid charge", ControlModeDischarge, 10000, -5000, ExtModeGridCharge},
		{"zero discharge rate blocks discharging", ControlModeDischarge, 0, 10000, ExtModeBlockDischarge},
		{"plain discharge", ControlModeDischarge, 10000, 10000, ExtModeDischarge},
		{"charge/discharge fallback", ControlModeChargeDischarge, 10000, 10000, ExtModeChargeDischarge},
	}
	for _, tc := range cases {
		assert.Equal(deriveExtendedMode(tc.raw, tc.dp, tc.cp), tc.want, tc.name)
	}
}

func TestObserveFreezesExtendedMode(t *testing.T) {
	assert := assert.New(t)
	control, store, _ := newTestControl()

	control.Observe(ControlModeAuto, 10000, 10000, NumberOf(50))
	mode, set := control.ExtendedMode()
	assert.True(set)
	assert.Equal(mode, ExtModeAuto)

	// A raw register flap must not re-derive the cached mode.
	control.Observe(ControlModeDischarge, 10000, 10000, NumberOf(50))
	control.Observe(ControlModeAuto, 10000, 10000, NumberOf(50))
	mode, _ = control.ExtendedMode()
	assert.Equal(mode, ExtModeAuto, "cached across register flaps")

	label, ok := store.TextAt("ext_control_mode")
	assert.True(ok)
	assert.Equal(label, "Auto")
}

func TestApplyRewritesExtendedMode(t *testing.T) {
	assert := assert.New(t)
	control, store, _ := newTestControl()

	control.Observe(ControlModeAuto, 10000, 10000, NumberOf(50))
	assert.NoError(control.Apply(CommandGridCharge))

	mode, _ := control.ExtendedMode()
	assert.Equal(mode, ExtModeGridCharge)
	label, _ := store.TextAt("ext_control_mode")
	assert.Equal(label, "Grid Charge")
}

func TestApplyWriteSequence(t *testing.T) {
	assert := assert.New(t)
	control, store, link := newTestControl()

	assert.NoError(control.Apply(CommandGridDischarge))

	assert.Equal(len(link.Writes), 3)
	assert.Equal(link.Writes[0].Addr, storageControlModeAddress)
	assert.Equal(link.Writes[0].Values, []uint16{uint16(ControlModeCharge)})
	assert.Equal(link.Writes[1].Addr, chargeRateAddress)
	assert.Equal(link.Writes[1].Values, []uint16{0})
	assert.Equal(link.Writes[2].Addr, dischargeRateAddress)
	assert.Equal(link.Writes[2].Values, []uint16{10000})

	// Grid discharge repurposes the charge limit as a power target.
	assert.Equal(store.NumberAt("discharge_limit").Value(), float64(0))
	assert.Equal(store.NumberAt("charge_limit").Value(), float64(0))
	assert.Equal(store.NumberAt("grid_discharge_power").Value(), float64(0))
}

func TestApplyRestoreDefaultsWritesReserve(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	assert.NoError(control.Apply(CommandRestoreDefaults))

	assert.Equal(len(link.Writes), 4)
	assert.Equal(link.Writes[3].Addr, minimumReserveAddress)
	assert.Equal(link.Writes[3].Values, []uint16{700}, "7% reserve in hundredths")
}

func TestApplyCalibrate(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	assert.NoError(control.Apply(CommandCalibrate))

	mode, _ := control.ExtendedMode()
	assert.Equal(mode, ExtModeCalibrate)
	assert.Equal(link.Writes[2].Addr, dischargeRateAddress)
	assert.Equal(int16(link.Writes[2].Values[0]), int16(-10000), "forced grid charge during calibration")
}

func TestCalibrationFailsafeFullBattery(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	assert.NoError(control.Apply(CommandCalibrate))
	baseline := len(link.Writes)

	// Still charging towards full: no intervention.
	control.Observe(ControlModeDischarge, 10000, -10000, NumberOf(99.97))
	assert.Equal(len(link.Writes), baseline)

	control.Observe(ControlModeDischarge, 10000, -10000, NumberOf(100))
	assert.Equal(len(link.Writes), baseline+3, "halt writes mode and rates")
	assert.Equal(link.Writes[baseline].Values, []uint16{uint16(ControlModeDischarge)})
	assert.Equal(link.Writes[baseline+2].Addr, dischargeRateAddress)
	assert.Equal(link.Writes[baseline+2].Values, []uint16{0}, "discharge halted")

	// The halt fires once per 100% plateau.
	control.Observe(ControlModeDischarge, 10000, -10000, NumberOf(100))
	assert.Equal(len(link.Writes), baseline+3, "idempotent while soc stays at 100")

	// Dropping below 100 re-arms the failsafe.
	control.Observe(ControlModeDischarge, 10000, -10000, NumberOf(99.5))
	control.Observe(ControlModeDischarge, 10000, -10000, NumberOf(100))
	assert.Equal(len(link.Writes), baseline+6, "re-armed after leaving the plateau")
}

func TestCalibrationFailsafeEmptyBattery(t *testing.T) {
	assert := assert.New(t)
	control, store, link := newTestControl()

	assert.NoError(control.Apply(CommandCalibrate))
	baseline := len(link.Writes)

	// 5.01% is above the threshold.
	control.Observe(ControlModeChargeDischarge, 10000, 10000, NumberOf(5.01))
	assert.Equal(len(link.Writes), baseline)

	control.Observe(ControlModeChargeDischarge, 10000, 10000, NumberOf(5))
	assert.Equal(len(link.Writes), baseline+4, "auto restore plus reserve")
	assert.Equal(link.Writes[baseline].Values, []uint16{uint16(ControlModeAuto)})
	assert.Equal(link.Writes[baseline+3].Addr, minimumReserveAddress)
	assert.Equal(link.Writes[baseline+3].Values, []uint16{3000}, "30% reserve")

	mode, _ := control.ExtendedMode()
	assert.Equal(mode, ExtModeAuto, "cached mode invalidated to auto")
	label, _ := store.TextAt("ext_control_mode")
	assert.Equal(label, "Auto")
}

func TestCalibrationFailsafeSkipsUndefinedSoc(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	assert.NoError(control.Apply(CommandCalibrate))
	baseline := len(link.Writes)

	control.Observe(ControlModeDischarge, 10000, -10000, Undefined())
	assert.Equal(len(link.Writes), baseline, "unreadable soc never triggers a failsafe")
}

func TestMinimumReserveRejectsBelowFive(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	err := control.SetMinimumReserve(4.9)
	assert.ErrorIs(err, ErrReserveTooLow)
	assert.Equal(len(link.Writes), 0, "rejected without a write")

	assert.NoError(control.SetMinimumReserve(5))
	assert.Equal(link.Writes[0].Values, []uint16{500})
}

func TestWattRatesClampToNameplate(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()
	control.SetMaxRates(5000, 10000)

	assert.NoError(control.SetChargeRateW(2500))
	assert.Equal(link.Writes[0].Values, []uint16{5000}, "50% of 5 kW")

	assert.NoError(control.SetChargeRateW(20000))
	assert.Equal(link.Writes[1].Values, []uint16{10000}, "clamped to 100%")

	assert.NoError(control.SetDischargeRateW(-20000))
	assert.Equal(int16(link.Writes[2].Values[0]), int16(-10000), "clamped to -100%")
}

func TestParseCommand(t *testing.T) {
	assert := assert.New(t)

	cmd, err := ParseCommand("grid_charge")
	assert.NoError(err)
	assert.Equal(cmd, CommandGridCharge)

	_, err = ParseCommand("turbo")
	assert.ErrorIs(err, ErrUnknownCommand)
}

func TestSetControlModeRejectsInvalid(t *testing.T) {
	assert := assert.New(t)
	control, _, link := newTestControl()

	err := control.setControlMode(ControlMode(9))
	assert.ErrorIs(err, ErrUnsupportedControlMode)
	assert.Equal(len(link.Writes), 0)
}
