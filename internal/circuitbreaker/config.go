package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Settings is the configurable subset of Config, shared by every breaker
// and overridable per dependency through CB_<KIND>_* variables.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenRequests int
}

// ForDependency builds a Config for kind ("LLM", "SEARCH", "REDIS") from s,
// applying CB_<KIND>_FAILURE_THRESHOLD, CB_<KIND>_TIMEOUT and
// CB_<KIND>_MAX_REQUESTS overrides.
func (s Settings) ForDependency(kind string) Config {
	cfg := DefaultConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = uint32(s.FailureThreshold)
	}
	if s.ResetTimeout > 0 {
		cfg.Timeout = s.ResetTimeout
	}
	if s.HalfOpenRequests > 0 {
		cfg.MaxRequests = uint32(s.HalfOpenRequests)
		if cfg.SuccessThreshold > cfg.MaxRequests {
			cfg.SuccessThreshold = cfg.MaxRequests
		}
	}

	prefix := "CB_" + kind + "_"
	cfg.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.Timeout = getEnvDuration(prefix+"TIMEOUT", cfg.Timeout)
	cfg.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", cfg.MaxRequests)
	cfg.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", cfg.SuccessThreshold)
	cfg.Interval = getEnvDuration(prefix+"INTERVAL", cfg.Interval)
	return cfg
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
