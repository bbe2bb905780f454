package config

import (
	"os"
	"strings"
	"time"

	"keyward/pkg/platform/dedupe"
)

// Server captures the daemon's top level configuration.
type Server struct {
	Addr string

	// Backend selects where keyrings live: memory, postgres or redis.
	Backend string

	// StoreDir holds the search list files; PrefsDir the shared preference
	// files.
	StoreDir string
	PrefsDir string

	// LoginStorePath and LegacyLoginStorePath are the canonical and the
	// historical on-disk names of the login store. SystemStorePath names the
	// store system identity assignments resolve against.
	LoginStorePath       string
	LegacyLoginStorePath string
	SystemStorePath      string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig captures connection settings for the redis backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures change event publishing settings. Empty brokers
// disable publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("KEYWARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	backend := os.Getenv("KEYWARD_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	storeDir := os.Getenv("KEYWARD_STORE_DIR")
	if storeDir == "" {
		storeDir = "/var/lib/keyward/searchlists"
	}
	prefsDir := os.Getenv("KEYWARD_PREFS_DIR")
	if prefsDir == "" {
		prefsDir = "/var/lib/keyward/prefs"
	}

	loginPath := os.Getenv("KEYWARD_LOGIN_STORE")
	if loginPath == "" {
		loginPath = "/rings/login"
	}
	legacyPath := os.Getenv("KEYWARD_LEGACY_LOGIN_STORE")
	if legacyPath == "" {
		legacyPath = "/rings/keyring"
	}
	systemPath := os.Getenv("KEYWARD_SYSTEM_STORE")
	if systemPath == "" {
		systemPath = "/rings/system"
	}

	topic := os.Getenv("KEYWARD_KAFKA_TOPIC")
	if topic == "" {
		topic = "keyward.changes"
	}
	var brokers []string
	if raw := os.Getenv("KEYWARD_KAFKA_BROKERS"); raw != "" {
		brokers = dedupe.TrimmedStrings(strings.Split(raw, ","))
	}

	return Server{
		Addr:                 addr,
		Backend:              backend,
		StoreDir:             storeDir,
		PrefsDir:             prefsDir,
		LoginStorePath:       loginPath,
		LegacyLoginStorePath: legacyPath,
		SystemStorePath:      systemPath,
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
		},
	}
}
