package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"KEYWARD_ADDR", "KEYWARD_BACKEND", "KEYWARD_LOGIN_STORE",
		"KEYWARD_LEGACY_LOGIN_STORE", "KEYWARD_SYSTEM_STORE", "KEYWARD_KAFKA_BROKERS",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "/rings/login", cfg.LoginStorePath)
	assert.Equal(t, "/rings/keyring", cfg.LegacyLoginStorePath)
	assert.Equal(t, "/rings/system", cfg.SystemStorePath)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnv_KafkaBrokersTrimmedAndDeduped(t *testing.T) {
	t.Setenv("KEYWARD_KAFKA_BROKERS", " broker-1:9092 ,broker-2:9092,, broker-1:9092 ")

	cfg := FromEnv()
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}
