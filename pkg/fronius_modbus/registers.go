package fronius_modbus

import "fmt"

// Fixed Fronius GEN24 SunSpec register map. Addresses are zero-based
// protocol addresses pointing at the first data word of each model block
// (block id and length words excluded).
const (
	commonAddress   uint16 = 40004
	commonCount     uint16 = 65
	inverterAddress uint16 = 40071
	inverterCount   uint16 = 50
	settingsAddress uint16 = 40151
	settingsCount   uint16 = 30
	statusAddress   uint16 = 40183
	statusCount     uint16 = 44
	controlsAddress uint16 = 40229
	controlsCount   uint16 = 24
	nameplateAddress uint16 = 40123
	nameplateCount   uint16 = 120
	mpptAddress     uint16 = 40255
	mpptCount       uint16 = 88
	meterAddress    uint16 = 40071
	meterCount      uint16 = 103
	storageAddress  uint16 = 40345
	storageCount    uint16 = 24

	storageControlModeAddress uint16 = 40348
	minimumReserveAddress     uint16 = 40350
	dischargeRateAddress      uint16 = 40355
	chargeRateAddress         uint16 = 40356
)

// DER device type code flagging battery storage capability on the
// nameplate block.
const derTypeStorage = 82

// ControlMode is the raw StorCtl_Mod register value.
type ControlMode uint16

const (
	ControlModeAuto            ControlMode = 0
	ControlModeCharge          ControlMode = 1
	ControlModeDischarge       ControlMode = 2
	ControlModeChargeDischarge ControlMode = 3
)

func (m ControlMode) Valid() bool {
	return m <= ControlModeChargeDischarge
}

func (m ControlMode) String() string {
	switch m {
	case ControlModeAuto:
		return "Auto"
	case ControlModeCharge:
		return "Charge"
	case ControlModeDischarge:
		return "Discharge"
	case ControlModeChargeDischarge:
		return "Charge/Discharge"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(m))
	}
}

// ExtendedControlMode refines the raw control mode with the observed
// charge/discharge rate signs into the richer operating mode.
type ExtendedControlMode int

const (
	ExtModeAuto            ExtendedControlMode = 0
	ExtModeCharge          ExtendedControlMode = 1
	ExtModeDischarge       ExtendedControlMode = 2
	ExtModeChargeDischarge ExtendedControlMode = 3
	ExtModeGridDischarge   ExtendedControlMode = 4
	ExtModeGridCharge      ExtendedControlMode = 5
	ExtModeBlockDischarge  ExtendedControlMode = 6
	ExtModeCalibrate       ExtendedControlMode = 7
)

func (m ExtendedControlMode) String() string {
	switch m {
	case ExtModeAuto:
		return "Auto"
	case ExtModeCharge:
		return "Charge"
	case ExtModeDischarge:
		return "Discharge"
	case ExtModeChargeDischarge:
		return "Charge/Discharge"
	case ExtModeGridDischarge:
		return "Grid Discharge"
	case ExtModeGridCharge:
		return "Grid Charge"
	case ExtModeBlockDischarge:
		return "Block Charge/Discharge"
	case ExtModeCalibrate:
		return "Calibrate"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// GridStatus is the derived grid connection state, built from the
// inverter line frequency with the meter frequency as fallback.
type GridStatus int

const (
	GridStatusNoConnection  GridStatus = 0
	GridStatusOverFrequency GridStatus = 1
	GridStatusBackupPower   GridStatus = 2
	GridStatusOnGrid        GridStatus = 3
)

const gridStatusUndetermined = "Undetermined"

func (s GridStatus) String() string {
	switch s {
	case GridStatusNoConnection:
		return "No Connection"
	case GridStatusOverFrequency:
		return "Over Frequency"
	case GridStatusBackupPower:
		return "Backup Power"
	case GridStatusOnGrid:
		return "On Grid"
	default:
		return gridStatusUndetermined
	}
}

// InverterStatusString maps the Fronius vendor operating state register.
func InverterStatusString(code uint16) string {
	switch code {
	case 1:
		return "Off"
	case 2:
		return "Sleeping"
	case 3:
		return "Starting"
	case 4:
		return "MPPT"
	case 5:
		return "Throttled"
	case 6:
		return "Shutting Down"
	case 7:
		return "Fault"
	case 8:
		return "Standby"
	case 9:
		return "No SolarNet Communication"
	case 10:
		return "No Inverter Communication"
	case 11:
		return "SolarNet Overcurrent"
	case 12:
		return "Update In Progress"
	case 13:
		return "AFCI Event"
	default:
		return fmt.Sprintf("unknown(%d)", code)
	}
}

// ConnectionStatusString condenses the PVConn/StorConn bitfield
// (connected/available/operating) to a single label.
func ConnectionStatusString(code uint16) string {
	switch {
	case code == 0:
		return "Disconnected"
	case code&0x04 != 0:
		return "Operating"
	case code&0x02 != 0:
		return "Available"
	default:
		return "Connected"
	}
}

func ECPConnectionStatusString(code uint16) string {
	if code == 0 {
		return "Disconnected"
	}
	return "Connected"
}

func ControlStatusString(code uint16) string {
	switch code {
	case 0:
		return "Disabled"
	case 1:
		return "Enabled"
	default:
		return fmt.Sprintf("unknown(%d)", code)
	}
}

// ChargeStatusString maps the storage ChaSt register.
func ChargeStatusString(code uint16) string {
	switch code {
	case 1:
		return "Off"
	case 2:
		return "Empty"
	case 3:
		return "Discharging"
	case 4:
		return "Charging"
	case 5:
		return "Full"
	case 6:
		return "Holding"
	case 7:
		return "Testing"
	default:
		return fmt.Sprintf("unknown(%d)", code)
	}
}

// GridChargeStatusString maps the ChaGriSet register: whether the
// battery may be charged from the grid or from PV only.
func GridChargeStatusString(code uint16) string {
	switch code {
	case 0:
		return "PV"
	case 1:
		return "Grid"
	default:
		return fmt.Sprintf("unknown(%d)", code)
	}
}

// inverterEventLabels are the EvtVnd2 vendor event flag labels, indexed
// by bit position.
var inverterEventLabels = []string{
	"DC Insulation Fault",
	"Grid Error",
	"AC Overcurrent",
	"DC Overcurrent",
	"Over Temperature",
	"Power Low",
	"DC Low",
	"Intermediate Circuit Error",
	"AC Frequency Too High",
	"AC Frequency Too Low",
	"AC Voltage Too High",
	"AC Voltage Too Low",
	"Direct Current Feed In",
	"Relay Problem",
	"Power Stage Error",
	"Control Problems",
}

// inverterControlLabels are the StActCtl active-throttling flag labels.
var inverterControlLabels = []string{
	"Power Limit",
	"Reactive Power Limit",
	"Power Factor Limit",
}
