package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr  string
	StoragePath string
	DBPath      string
	Stateless   bool

	QbitURL      string
	QbitUsername string
	QbitPassword string
	QbitTag      string

	TelegramBotToken    string
	TelegramChatID      int64
	TelegramPollTimeout time.Duration

	APIKey string

	SeedboxSSHHost    string
	RelaySSHHost      string
	SSHKeyPath        string
	RsyncBwLimitKBps  int
	SSHConnectTimeout time.Duration

	PullCron     string
	TransferCron string
	SweepCron    string

	ClaimTTL  time.Duration
	Retention time.Duration
	DryRun    bool
}

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Load reads daemon configuration from the environment.
func Load() Config {
	storagePath := getEnv("STORAGE_PATH", "")
	if storagePath == "" {
		log.Fatal("STORAGE_PATH is required")
	}

	stateless := getEnvBool("STATELESS", false)
	dbPath := getEnv("DB_PATH", filepath.Join(storagePath, "relay.db"))
	if stateless {
		dbPath = ":memory:"
	}

	return Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8000"),
		StoragePath: storagePath,
		DBPath:      dbPath,
		Stateless:   stateless,

		QbitURL:      getEnv("QBIT_URL", "http://localhost:8080"),
		QbitUsername: getEnv("QBIT_USERNAME", "admin"),
		QbitPassword: getEnv("QBIT_PASSWORD", ""),
		QbitTag:      getEnv("QBIT_TAG", "relay"),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:      getEnvInt64("TELEGRAM_CHAT_ID", 0),
		TelegramPollTimeout: getEnvDuration("TELEGRAM_POLL_TIMEOUT", 50*time.Second),

		APIKey: getEnv("API_KEY", ""),

		SeedboxSSHHost:    getEnv("SEEDBOX_SSH_HOST", ""),
		RelaySSHHost:      getEnv("RELAY_SSH_HOST", ""),
		SSHKeyPath:        getEnv("SSH_KEY_PATH", ""),
		RsyncBwLimitKBps:  getEnvInt("RSYNC_BWLIMIT_KBPS", 0),
		SSHConnectTimeout: getEnvDuration("SSH_CONNECT_TIMEOUT", 15*time.Second),

		PullCron:     getEnv("PULL_CRON", "@every 1h"),
		TransferCron: getEnv("TRANSFER_CRON", "@every 2h"),
		SweepCron:    getEnv("SWEEP_CRON", "@every 6h"),

		ClaimTTL:  getEnvDuration("CLAIM_TTL", 2*time.Hour),
		Retention: getEnvDuration("RETENTION", 0),
		DryRun:    getEnvBool("DRY_RUN", false),
	}
}

// ArtifactDir returns the relay-side directory owned by a task's artifact.
func (c Config) ArtifactDir(taskID string) string {
	return filepath.Join(c.StoragePath, "artifacts", taskID)
}

// StagingDir is where in-flight copies land before promotion.
func (c Config) StagingDir() string {
	return filepath.Join(c.StoragePath, "staging")
}

// TrashDir is where deletions are moved before removal.
func (c Config) TrashDir() string {
	return filepath.Join(c.StoragePath, "trash")
}
