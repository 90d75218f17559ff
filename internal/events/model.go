package events

// Sensor Model
type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, duration, total_increasing (for acc energy)
	DeviceClass       string // voltage, current, power, energy
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericSelect struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
	Options  []string
}

type GenericInputNumber struct {
	Device            Device
	Id                string
	Name              string
	UniqueId          string
	Icon              string
	UnitOfMeasurement string
	Max               float64
	Min               float64
	Step              float64
	Mode              string
	InitialValue      float64
}

// EventStream model
type GenericSensorUpdateEvent struct {
	Id string
}

type SensorUpdateEvent struct {
	GenericSensorUpdateEvent
	Value    float64
	Decimals uint
}

type TextSensorUpdateEvent struct {
	GenericSensorUpdateEvent
	Value string
}

type BridgeStateUpdateEvent struct {
	GenericSensorUpdateEvent
	Value bool
}

// ParsedCommand is a validated inbound control request.
type ParsedCommand interface{}

type StorageModeCommand struct {
	ParsedCommand
	Mode string
}

type StorageMinimumReserveCommand struct {
	ParsedCommand
	Percent float64
}

type StorageChargeRateCommand struct {
	ParsedCommand
	Watts float64
}

type StorageDischargeRateCommand struct {
	ParsedCommand
	Watts float64
}
