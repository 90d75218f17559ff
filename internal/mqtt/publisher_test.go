package mqtt

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redpomodoro/fronius-modbus/internal/util"
	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestMQTTBroker(t *testing.T) (*mqttserver.Server, int) {
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	broker := mqttserver.New(&mqttserver.Options{
		InlineClient: true,
	})
	_ = broker.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: fmt.Sprintf(":%d", port),
	})
	require.NoError(t, broker.AddListener(tcp))

	go func() {
		if err := broker.Serve(); err != nil {
			t.Logf("MQTT broker error: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	return broker, port
}

type messageRecorder struct {
	mu       sync.Mutex
	messages map[string]string
}

func (r *messageRecorder) record(_ pahomqtt.Client, msg pahomqtt.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.Topic()] = string(msg.Payload())
}

func (r *messageRecorder) get(topic string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.messages[topic]
	return v, ok
}

func (r *messageRecorder) waitFor(t *testing.T, topic string) string {
	for i := 0; i < 50; i++ {
		if v, ok := r.get(topic); ok {
			return v
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no message on %s", topic)
	return ""
}

func newTestPublisher(t *testing.T, port int) (*Publisher, *fronius_modbus.TestRegisterLink) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.Port = port
	cfg.MQTT.HADiscoveryEnable = true

	link := fronius_modbus.NewTestRegisterLink()
	session := fronius_modbus.NewSession(link, zap.NewNop())
	hub := fronius_modbus.NewHub(fronius_modbus.HubParams{
		Host:           "inverter.local",
		InverterUnitID: 1,
		ScanInterval:   time.Second,
	}, session, zap.NewNop())

	return NewPublisher(&cfg, hub, zap.NewNop()), link
}

func TestPublisherRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MQTT round trip test in short mode")
	}
	assert := assert.New(t)

	broker, port := startTestMQTTBroker(t)
	defer broker.Close()

	publisher, link := newTestPublisher(t, port)
	seedPublisherRegisters(link)

	recorder := &messageRecorder{messages: make(map[string]string)}
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://localhost:%d", port)).
		SetClientID("test-subscriber")
	subscriber := pahomqtt.NewClient(opts)
	token := subscriber.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	token = subscriber.Subscribe("froniustest/#", 0, recorder.record)
	require.True(t, token.WaitTimeout(5*time.Second))
	defer subscriber.Disconnect(100)

	require.NoError(t, publisher.hub.Start(context.Background()))
	require.NoError(t, publisher.Start())
	defer publisher.Stop()

	assert.Equal(recorder.waitFor(t, "froniustest/bridge/state"), MQTT_PAYLOAD_ONLINE)

	publisher.hub.RefreshOnce()
	publisher.publishChanges()

	assert.Equal(recorder.waitFor(t, "froniustest/sensor/acpower/state"), "3500")
	assert.Equal(recorder.waitFor(t, "froniustest/sensor/statusvendor/state"), "MPPT")

	// Inbound select command drives a register write.
	token = subscriber.Publish("froniustest/select/storage_command/command", 1, false, "auto")
	require.True(t, token.WaitTimeout(5*time.Second))

	deadline := time.Now().Add(5 * time.Second)
	var writes []fronius_modbus.RegisterWrite
	for time.Now().Before(deadline) {
		writes = link.WritesSnapshot()
		if len(writes) >= 3 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NotEmpty(t, writes, "command produced no writes")
	assert.Equal(writes[0].Values, []uint16{0}, "auto mode register")
}

func seedPublisherRegisters(link *fronius_modbus.TestRegisterLink) {
	link.SetBlock(1, 40004, packTestString("Fronius", 65))

	inverter := make([]uint16, 50)
	inverter[12] = 3500 // W
	inverter[37] = 4    // MPPT state
	link.SetBlock(1, 40071, inverter)
	link.SetBlock(1, 40183, make([]uint16, 44))
	link.SetBlock(1, 40151, make([]uint16, 30))
	link.SetBlock(1, 40229, make([]uint16, 24))

	// plain PV nameplate keeps startup off the Solar API
	nameplate := make([]uint16, 120)
	nameplate[21] = 5000
	nameplate[23] = 5000
	link.SetBlock(1, 40123, nameplate)

	mppt := make([]uint16, 88)
	mppt[6] = 4
	link.SetBlock(1, 40255, mppt)

	storage := make([]uint16, 24)
	storage[6] = 5000 // 50% soc
	storage[9] = 4    // charging
	link.SetBlock(1, 40345, storage)
}

func packTestString(s string, words int) []uint16 {
	out := make([]uint16, words)
	for i := 0; i < len(s); i++ {
		if i%2 == 0 {
			out[i/2] |= uint16(s[i]) << 8
		} else {
			out[i/2] |= uint16(s[i])
		}
	}
	return out
}
