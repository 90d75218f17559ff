package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel          zapcore.Level
	InverterModbusTcp InverterModbusTCPConfig `mapstructure:"inverter_modbus_tcp"`
	MQTT              MQTTConfig              `mapstructure:"mqtt"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type InverterModbusTCPConfig struct {
	Host                string
	Port                uint
	InverterId          uint   `mapstructure:"inverter_id"`
	MeterIds            []uint `mapstructure:"meter_ids"`
	ScanIntervalSeconds uint   `mapstructure:"scan_interval_seconds"`
}

// ScanInterval is the polling cadence.
func (c InverterModbusTCPConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// Timeout is the per-request Modbus deadline: one second less than the
// scan interval so a stuck request cannot bleed into the next cycle,
// never below three seconds.
func (c InverterModbusTCPConfig) Timeout() time.Duration {
	timeout := int(c.ScanIntervalSeconds) - 1
	if timeout < 3 {
		timeout = 3
	}
	return time.Duration(timeout) * time.Second
}

// MeterUnitIds narrows the configured meter ids to the uint8 unit id
// space used on the wire.
func (c InverterModbusTCPConfig) MeterUnitIds() []uint8 {
	out := make([]uint8, 0, len(c.MeterIds))
	for _, id := range c.MeterIds {
		out = append(out, uint8(id))
	}
	return out
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
