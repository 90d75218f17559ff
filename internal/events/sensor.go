package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	"github.com/carlmjohnson/versioninfo"
)

// Sensor ids double as data store keys: a store field and its MQTT
// state topic share the same name.
const (
	SENSOR_ID_BRIDGE_STATE              = "bridge"
	SENSOR_ID_INVERTER_AC_POWER         = "acpower"
	SENSOR_ID_INVERTER_AC_ENERGY        = "acenergy"
	SENSOR_ID_INVERTER_FREQUENCY        = "line_frequency"
	SENSOR_ID_INVERTER_CABINET_TEMP     = "tempcab"
	SENSOR_ID_INVERTER_OPERATING_STATE  = "statusvendor"
	SENSOR_ID_INVERTER_EVENTS           = "events2"
	SENSOR_ID_INVERTER_MAX_POWER        = "max_power"
	SENSOR_ID_PV_POWER                  = "pv_power"
	SENSOR_ID_STORAGE_POWER             = "storage_power"
	SENSOR_ID_HOUSE_LOAD                = "load"
	SENSOR_ID_GRID_STATUS               = "grid_status"
	SENSOR_ID_STORAGE_SOC               = "soc"
	SENSOR_ID_STORAGE_CHARGE_STATUS     = "charge_status"
	SENSOR_ID_STORAGE_GRID_CHARGING     = "grid_charging"
	SENSOR_ID_STORAGE_CONTROL_MODE      = "control_mode"
	SENSOR_ID_STORAGE_EXT_CONTROL_MODE  = "ext_control_mode"
	SENSOR_ID_STORAGE_CHARGING_POWER    = "charging_power"
	SENSOR_ID_STORAGE_DISCHARGING_POWER = "discharging_power"
	SENSOR_ID_STORAGE_MIN_RESERVE       = "minimum_reserve"
	SENSOR_ID_STORAGE_MAX_CHARGE        = "max_charge"
	SENSOR_ID_STORAGE_CHARGE_LIMIT      = "charge_limit"
	SENSOR_ID_STORAGE_DISCHARGE_LIMIT   = "discharge_limit"
	SELECT_ID_STORAGE_COMMAND           = "storage_command"
	INPUT_NUMBER_ID_MIN_RESERVE         = "set_minimum_reserve"
	INPUT_NUMBER_ID_CHARGE_RATE         = "set_charge_rate"
	INPUT_NUMBER_ID_DISCHARGE_RATE      = "set_discharge_rate"

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("froniusmodbus_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "redpomodoro",
		Model:        "Fronius Modbus Bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Fronius Modbus %s", md5HashShort(baseTopic)),
	}
}

// InverterDevice builds the inverter device record from the identity
// fields read at startup.
func InverterDevice(store *fronius_modbus.DataStore) Device {
	manufacturer, _ := store.TextAt("i_manufacturer")
	model, _ := store.TextAt("i_model")
	version, _ := store.TextAt("i_sw_version")
	serial, _ := store.TextAt("i_serial")
	return Device{
		Id:           fmt.Sprintf("fro_inverter_%s", md5HashShort(serial)),
		Version:      version,
		Manufacturer: manufacturer,
		Model:        model,
		Name:         fmt.Sprintf("%s %s %s", manufacturer, model, md5HashShort(serial)),
	}
}

func MeterDevice(store *fronius_modbus.DataStore, index int, viaDevice string) Device {
	prefix := fmt.Sprintf("m%d_", index)
	manufacturer, _ := store.TextAt(prefix + "manufacturer")
	model, _ := store.TextAt(prefix + "model")
	version, _ := store.TextAt(prefix + "sw_version")
	serial, _ := store.TextAt(prefix + "serial")
	return Device{
		Id:           fmt.Sprintf("fro_meter_%s", md5HashShort(serial)),
		Version:      version,
		Manufacturer: manufacturer,
		Model:        model,
		Name:         fmt.Sprintf("%s %s %s", manufacturer, model, md5HashShort(serial)),
		ViaDevice:    viaDevice,
	}
}

func StorageDevice(store *fronius_modbus.DataStore, viaDevice string) Device {
	manufacturer, _ := store.TextAt("s_manufacturer")
	model, _ := store.TextAt("s_model")
	serial, _ := store.TextAt("s_serial")
	if manufacturer == "" && model == "" {
		manufacturer = "Fronius"
		model = "Battery Storage"
	}
	return Device{
		Id:           fmt.Sprintf("fro_storage_%s", md5HashShort(serial)),
		Manufacturer: manufacturer,
		Model:        model,
		Name:         fmt.Sprintf("%s %s %s", manufacturer, model, md5HashShort(serial)),
		ViaDevice:    viaDevice,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func InverterBaseSensors(inverterDevice Device, mpptConfigured bool) []GenericSensor {

	var sensors []GenericSensor

	// Inverter AC Power
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_INVERTER_AC_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "AC power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_AC_POWER),
	})

	// Inverter Lifetime Energy
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_INVERTER_AC_ENERGY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Lifetime energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_AC_ENERGY),
	})

	// Inverter Line Frequency
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_INVERTER_FREQUENCY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Line frequency",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_FREQUENCY,
		UnitOfMeasurement: "Hz",
		Icon:              "mdi:sine-wave",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_FREQUENCY),
	})

	// Inverter Cabinet Temperature
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_INVERTER_CABINET_TEMP,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Cabinet temperature",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		UnitOfMeasurement: "°C",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_CABINET_TEMP),
	})

	// Inverter Operating State
	sensors = append(sensors, GenericSensor{
		Device:     inverterDevice,
		Id:         SENSOR_ID_INVERTER_OPERATING_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Operating state",
		UniqueId:   uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_OPERATING_STATE),
	})

	// Inverter Vendor Events
	sensors = append(sensors, GenericSensor{
		Device:         inverterDevice,
		Id:             SENSOR_ID_INVERTER_EVENTS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Vendor events",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_EVENTS),
	})

	// Inverter Max Power
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_INVERTER_MAX_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Max power",
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_INVERTER_MAX_POWER),
	})

	// House Load
	sensors = append(sensors, GenericSensor{
		Device:            inverterDevice,
		Id:                SENSOR_ID_HOUSE_LOAD,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "House load",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_HOUSE_LOAD),
	})

	// Grid Status
	sensors = append(sensors, GenericSensor{
		Device:     inverterDevice,
		Id:         SENSOR_ID_GRID_STATUS,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Grid status",
		Icon:       "mdi:transmission-tower",
		UniqueId:   uniqueId(inverterDevice.Id, SENSOR_ID_GRID_STATUS),
	})

	if mpptConfigured {
		// PV Power
		sensors = append(sensors, GenericSensor{
			Device:            inverterDevice,
			Id:                SENSOR_ID_PV_POWER,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "PV power",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			Icon:              "mdi:solar-power",
			UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_PV_POWER),
		})
		// Storage DC Power Flow
		sensors = append(sensors, GenericSensor{
			Device:            inverterDevice,
			Id:                SENSOR_ID_STORAGE_POWER,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Storage power flow",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(inverterDevice.Id, SENSOR_ID_STORAGE_POWER),
		})
	}

	return sensors
}

func MeterSensors(meterDevice Device, index int) []GenericSensor {

	prefix := fmt.Sprintf("m%d_", index)
	var sensors []GenericSensor

	// Meter Power Flow
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                prefix + "power",
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power flow",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, prefix+"power"),
	})

	// Meter Total Energy Exported
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                prefix + "exported",
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Total energy exported",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(meterDevice.Id, prefix+"exported"),
	})

	// Meter Total Energy Imported
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                prefix + "imported",
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Total energy imported",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(meterDevice.Id, prefix+"imported"),
	})

	// Meter Grid Frequency
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                prefix + "line_frequency",
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Grid frequency",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_FREQUENCY,
		UnitOfMeasurement: "Hz",
		Icon:              "mdi:sine-wave",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(meterDevice.Id, prefix+"line_frequency"),
	})

	// Meter Grid Voltage
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                prefix + "PhVphA",
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Grid voltage",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_VOLTAGE,
		UnitOfMeasurement: "V",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(meterDevice.Id, prefix+"PhVphA"),
	})

	return sensors
}

func StorageSensors(storageDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Battery SoC
	sensors = append(sensors, GenericSensor{
		Device:            storageDevice,
		Id:                SENSOR_ID_STORAGE_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "State of charge",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_SOC),
	})

	// Battery Operating State
	sensors = append(sensors, GenericSensor{
		Device:     storageDevice,
		Id:         SENSOR_ID_STORAGE_CHARGE_STATUS,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Operating state",
		UniqueId:   uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_CHARGE_STATUS),
	})

	// Battery Grid Charging Source
	sensors = append(sensors, GenericSensor{
		Device:     storageDevice,
		Id:         SENSOR_ID_STORAGE_GRID_CHARGING,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Charging source",
		Icon:       "mdi:transmission-tower-import",
		UniqueId:   uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_GRID_CHARGING),
	})

	// Battery Control Mode
	sensors = append(sensors, GenericSensor{
		Device:         storageDevice,
		Id:             SENSOR_ID_STORAGE_CONTROL_MODE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Control mode",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_CONTROL_MODE),
	})

	// Battery Extended Control Mode
	sensors = append(sensors, GenericSensor{
		Device:     storageDevice,
		Id:         SENSOR_ID_STORAGE_EXT_CONTROL_MODE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Extended control mode",
		UniqueId:   uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_EXT_CONTROL_MODE),
	})

	// Battery Charging Power
	sensors = append(sensors, GenericSensor{
		Device:            storageDevice,
		Id:                SENSOR_ID_STORAGE_CHARGING_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charge rate limit",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_CHARGING_POWER),
	})

	// Battery Discharging Power
	sensors = append(sensors, GenericSensor{
		Device:            storageDevice,
		Id:                SENSOR_ID_STORAGE_DISCHARGING_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Discharge rate limit",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_DISCHARGING_POWER),
	})

	// Battery Minimum Reserve
	sensors = append(sensors, GenericSensor{
		Device:            storageDevice,
		Id:                SENSOR_ID_STORAGE_MIN_RESERVE,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Minimum reserve",
		UnitOfMeasurement: "%",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_MIN_RESERVE),
	})

	// Battery Max Capacity
	sensors = append(sensors, GenericSensor{
		Device:            storageDevice,
		Id:                SENSOR_ID_STORAGE_MAX_CHARGE,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Max capacity",
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(storageDevice.Id, SENSOR_ID_STORAGE_MAX_CHARGE),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge Connection State
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

// StorageModeSelect exposes the closed command set as a selector.
func StorageModeSelect(storageDevice Device) GenericSelect {
	return GenericSelect{
		Device:   storageDevice,
		Id:       SELECT_ID_STORAGE_COMMAND,
		Name:     "Storage control",
		UniqueId: uniqueId(storageDevice.Id, SELECT_ID_STORAGE_COMMAND),
		Icon:     "mdi:battery-sync",
		Options:  fronius_modbus.CommandNames(),
	}
}

func StorageInputNumbers(storageDevice Device, maxChargeW, maxDischargeW float64) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	// Minimum reserve
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            storageDevice,
		Id:                INPUT_NUMBER_ID_MIN_RESERVE,
		Name:              "Minimum reserve",
		UniqueId:          uniqueId(storageDevice.Id, INPUT_NUMBER_ID_MIN_RESERVE),
		Icon:              "mdi:battery-lock",
		UnitOfMeasurement: "%",
		Max:               100,
		Min:               5,
		Step:              1,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      7,
	})

	// Charge rate
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            storageDevice,
		Id:                INPUT_NUMBER_ID_CHARGE_RATE,
		Name:              "Charge rate",
		UniqueId:          uniqueId(storageDevice.Id, INPUT_NUMBER_ID_CHARGE_RATE),
		Icon:              "mdi:battery-plus",
		UnitOfMeasurement: "W",
		Max:               maxChargeW,
		Min:               0,
		Step:              100,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      maxChargeW,
	})

	// Discharge rate
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:            storageDevice,
		Id:                INPUT_NUMBER_ID_DISCHARGE_RATE,
		Name:              "Discharge rate",
		UniqueId:          uniqueId(storageDevice.Id, INPUT_NUMBER_ID_DISCHARGE_RATE),
		Icon:              "mdi:battery-minus",
		UnitOfMeasurement: "W",
		Max:               maxDischargeW,
		Min:               0,
		Step:              100,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      maxDischargeW,
	})

	return inputNumbers
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
