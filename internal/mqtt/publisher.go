package mqtt

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redpomodoro/fronius-modbus/internal/config"
	"github.com/redpomodoro/fronius-modbus/internal/events"
	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const defaultMQTTTimeout = 5 * time.Second

// Publisher bridges the polling hub to the MQTT broker: it announces
// the devices via Home Assistant discovery, republishes data store
// changes after every polling cycle and routes inbound select/number
// commands to the storage control machine.
type Publisher struct {
	cfg    *config.Config
	hub    *fronius_modbus.Hub
	client *MQTTClient
	logger *zap.Logger

	mu          sync.Mutex
	published   map[string]string
	sensors     map[string]events.GenericSensor
	unsubscribe func()
}

func NewPublisher(cfg *config.Config, hub *fronius_modbus.Hub, logger *zap.Logger) *Publisher {
	p := &Publisher{
		cfg:       cfg,
		hub:       hub,
		logger:    logger.With(zap.String("component", "mqtt_publisher")),
		published: make(map[string]string),
		sensors:   make(map[string]events.GenericSensor),
	}
	p.client = CreateMQTTClient(cfg, OptsFromConfig(cfg), p.onConnect, p.onConnectionLost)
	return p
}

// Start connects to the broker. Discovery, the bridge birth message and
// the command subscription run from the connect callback so they are
// replayed after every reconnect.
func (p *Publisher) Start() error {
	errCh := make(chan error, 1)
	p.client.Connect(func(err error) { errCh <- err }, defaultMQTTTimeout)
	if err := <-errCh; err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	unsubscribe, err := p.hub.Subscribe(p.publishChanges)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	p.client.Publish(p.client.BridgeStateTopic(), MQTT_PAYLOAD_OFFLINE, 0, true,
		func(error) {}, defaultMQTTTimeout)
	p.client.Disconnect(defaultMQTTTimeout)
}

func (p *Publisher) onConnect(_ pahomqtt.Client) {
	p.logger.Info("connected to MQTT broker")

	p.registerSensors()
	if p.cfg.MQTT.HADiscoveryEnable {
		p.publishDiscovery()
	}
	p.client.Publish(p.client.BridgeStateTopic(), MQTT_PAYLOAD_ONLINE, 0, true,
		p.logPublishError("bridge state"), defaultMQTTTimeout)
	p.client.SubscribeToCommandTopic(p.handleCommandMessage,
		p.logPublishError("command subscribe"), defaultMQTTTimeout)

	// force a full republish after reconnect
	p.mu.Lock()
	p.published = make(map[string]string)
	p.mu.Unlock()
}

func (p *Publisher) onConnectionLost(_ pahomqtt.Client, err error) {
	p.logger.Warn("MQTT connection lost", zap.Error(err))
}

func (p *Publisher) registerSensors() {
	p.mu.Lock()
	defer p.mu.Unlock()

	store := p.hub.Store()
	inverterDevice := events.InverterDevice(store)

	register := func(sensors []events.GenericSensor) {
		for _, sensor := range sensors {
			p.sensors[sensor.Id] = sensor
		}
	}
	register(events.InverterBaseSensors(inverterDevice, p.hub.MPPTConfigured()))
	if p.hub.MeterConfigured() {
		for i := range p.hub.MeterUnitIDs() {
			register(events.MeterSensors(events.MeterDevice(store, i+1, inverterDevice.Id), i+1))
		}
	}
	if p.hub.StorageConfigured() {
		register(events.StorageSensors(events.StorageDevice(store, inverterDevice.Id)))
	}
}

func (p *Publisher) publishDiscovery() {
	store := p.hub.Store()
	topic := p.cfg.MQTT.HADiscoveryTopic
	inverterDevice := events.InverterDevice(store)
	bridgeDevice := events.BridgeDevice(p.cfg.MQTT.BaseTopic)

	for _, sensor := range events.BridgeSensors(bridgeDevice) {
		p.publishJSON(HADiscoverySensorTopic(topic, sensor),
			GenericSensorToHADiscoveryMessage(p.client, sensor))
	}
	for _, sensor := range events.InverterBaseSensors(inverterDevice, p.hub.MPPTConfigured()) {
		p.publishJSON(HADiscoverySensorTopic(topic, sensor),
			GenericSensorToHADiscoveryMessage(p.client, sensor))
	}
	if p.hub.MeterConfigured() {
		for i := range p.hub.MeterUnitIDs() {
			meterDevice := events.MeterDevice(store, i+1, inverterDevice.Id)
			for _, sensor := range events.MeterSensors(meterDevice, i+1) {
				p.publishJSON(HADiscoverySensorTopic(topic, sensor),
					GenericSensorToHADiscoveryMessage(p.client, sensor))
			}
		}
	}
	if p.hub.StorageConfigured() {
		storageDevice := events.StorageDevice(store, inverterDevice.Id)
		for _, sensor := range events.StorageSensors(storageDevice) {
			p.publishJSON(HADiscoverySensorTopic(topic, sensor),
				GenericSensorToHADiscoveryMessage(p.client, sensor))
		}
		sel := events.StorageModeSelect(storageDevice)
		p.publishJSON(HADiscoverySelectTopic(topic, sel),
			GenericSelectToHADiscoveryMessage(p.client, sel))

		maxCharge := store.NumberAt("MaxChaRte")
		maxDischarge := store.NumberAt("MaxDisChaRte")
		for _, number := range events.StorageInputNumbers(storageDevice, maxCharge.Value(), maxDischarge.Value()) {
			p.publishJSON(HADiscoveryInputNumberTopic(topic, number),
				GenericInputNumberToHADiscoveryMessage(p.client, number))
		}
	}
}

// publishChanges runs after every polling cycle: any registered sensor
// whose rendered value changed since the last publish goes out on its
// state topic.
func (p *Publisher) publishChanges() {
	snapshot := p.hub.Store().Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, sensor := range p.sensors {
		value, ok := snapshot[id]
		if !ok {
			continue
		}
		payload := renderValue(value)
		if p.published[id] == payload {
			continue
		}
		p.published[id] = payload
		var topic string
		if sensor.SensorType == events.SENSOR_TYPE_BINARY {
			topic = p.client.BinarySensorStateTopic(id)
		} else {
			topic = p.client.SensorStateTopic(id)
		}
		p.client.Publish(topic, payload, 0, false, p.logPublishError(id), defaultMQTTTimeout)
	}
}

func renderValue(v fronius_modbus.Value) string {
	if v.IsText() {
		return v.Text()
	}
	return strconv.FormatFloat(v.Number(), 'f', -1, 64)
}

func (p *Publisher) handleCommandMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	parsed, err := p.client.ParseMQTTCommand(msg)
	if err != nil {
		// every state topic also matches the wildcard subscription
		return
	}
	command, err := parsedCommandToEvent(*parsed)
	if err != nil {
		p.logger.Warn("invalid MQTT command", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := p.dispatchCommand(command); err != nil {
		p.logger.Error("MQTT command failed", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

func parsedCommandToEvent(cmd ParsedMQTTCommand) (events.ParsedCommand, error) {
	switch {
	case cmd.Command == "select" && cmd.DeviceId == events.SELECT_ID_STORAGE_COMMAND:
		return events.StorageModeCommand{Mode: cmd.Payload}, nil
	case cmd.Command == "number":
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, err
		}
		switch cmd.DeviceId {
		case events.INPUT_NUMBER_ID_MIN_RESERVE:
			return events.StorageMinimumReserveCommand{Percent: value}, nil
		case events.INPUT_NUMBER_ID_CHARGE_RATE:
			return events.StorageChargeRateCommand{Watts: value}, nil
		case events.INPUT_NUMBER_ID_DISCHARGE_RATE:
			return events.StorageDischargeRateCommand{Watts: value}, nil
		}
	}
	return nil, fmt.Errorf("unknown command target %q", cmd.DeviceId)
}

func (p *Publisher) dispatchCommand(command events.ParsedCommand) error {
	control := p.hub.Control()
	switch cmd := command.(type) {
	case events.StorageModeCommand:
		parsed, err := fronius_modbus.ParseCommand(cmd.Mode)
		if err != nil {
			return err
		}
		if err := control.Apply(parsed); err != nil {
			return err
		}
		p.client.Publish(p.client.SelectStateTopic(events.SELECT_ID_STORAGE_COMMAND),
			cmd.Mode, 0, false, p.logPublishError("select state"), defaultMQTTTimeout)
		return nil
	case events.StorageMinimumReserveCommand:
		return control.SetMinimumReserve(cmd.Percent)
	case events.StorageChargeRateCommand:
		return control.SetChargeRateW(cmd.Watts)
	case events.StorageDischargeRateCommand:
		return control.SetDischargeRateW(cmd.Watts)
	default:
		return fmt.Errorf("unhandled command type %T", command)
	}
}

func (p *Publisher) publishJSON(topic string, payload any) {
	p.client.PublishJSON(topic, payload, 0, true, p.logPublishError(topic), defaultMQTTTimeout)
}

func (p *Publisher) logPublishError(what string) func(error) {
	return func(err error) {
		if err != nil {
			p.logger.Error("MQTT operation failed", zap.String("target", what), zap.Error(err))
		}
	}
}
