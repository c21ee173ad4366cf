package temporalx

import (
	"strings"
	"time"

	"github.com/yungbote/withdrawal-aggregator/internal/config"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	RetentionDays         int

	DialTimeout    time.Duration
	DialMaxWait    time.Duration
	DialBackoff    time.Duration
	DialBackoffMax time.Duration
}

// FromConfig derives client settings from the service config. The task queue
// is per aggregator type so withdrawal and claim workers never share tasks.
func FromConfig(c config.TemporalConfig, taskQueue string) Config {
	return Config{
		Address:               strings.TrimSpace(c.Address),
		Namespace:             stringsOr(strings.TrimSpace(c.Namespace), "withdrawal-aggregator"),
		TaskQueue:             stringsOr(strings.TrimSpace(taskQueue), "withdrawal-aggregator"),
		ClientCertPath:        strings.TrimSpace(c.ClientCertPath),
		ClientKeyPath:         strings.TrimSpace(c.ClientKeyPath),
		ClientCAPath:          strings.TrimSpace(c.ClientCAPath),
		AutoRegisterNamespace: c.AutoRegister,
		RetentionDays:         7,
		DialTimeout:           5 * time.Second,
		DialMaxWait:           60 * time.Second,
		DialBackoff:           250 * time.Millisecond,
		DialBackoffMax:        5 * time.Second,
	}
}

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
