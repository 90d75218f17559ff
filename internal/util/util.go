package util

import (
	"github.com/redpomodoro/fronius-modbus/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		InverterModbusTcp: config.InverterModbusTCPConfig{
			Host:                "-.-.-.-",
			Port:                502,
			InverterId:          1,
			MeterIds:            []uint{200},
			ScanIntervalSeconds: 5,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "froniustest",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
