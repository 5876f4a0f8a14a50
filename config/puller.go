package config

import (
	"log"
	"os"
	"time"
)

// PullerConfig is the puller binary's configuration.
type PullerConfig struct {
	APIURL         string
	APIKey         string
	Destination    string
	SSHKeyPath     string
	BwLimitKBps    int
	ConnectTimeout time.Duration
	DryRun         bool
}

// LoadPuller reads puller configuration from the environment.
func LoadPuller() PullerConfig {
	apiURL := getEnv("PULLER_API_URL", "")
	if apiURL == "" {
		log.Fatal("PULLER_API_URL is required")
	}

	destination := getEnv("PULLER_DESTINATION", "")
	if destination == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal("determine working directory: ", err)
		}
		destination = cwd
	}

	return PullerConfig{
		APIURL:         apiURL,
		APIKey:         getEnv("PULLER_API_KEY", ""),
		Destination:    destination,
		SSHKeyPath:     getEnv("PULLER_SSH_KEY_PATH", ""),
		BwLimitKBps:    getEnvInt("PULLER_RSYNC_BWLIMIT_KBPS", 0),
		ConnectTimeout: getEnvDuration("PULLER_SSH_CONNECT_TIMEOUT", 15*time.Second),
		DryRun:         getEnvBool("PULLER_DRY_RUN", false),
	}
}
