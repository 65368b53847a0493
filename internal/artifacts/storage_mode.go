package artifacts

import (
	"fmt"
	"net/url"
	"strings"
)

type Backend string

const (
	BackendGCS         Backend = "gcs"
	BackendGCSEmulator Backend = "gcs_emulator"
	BackendMemory      Backend = "memory"
)

type Config struct {
	Backend      Backend
	Bucket       string
	EmulatorHost string
	// CredentialsJSON or a credentials file path; empty uses application default credentials.
	Credentials string
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidBackend      ConfigErrorCode = "invalid_backend"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Backend      string
	EmulatorHost string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid artifact storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidBackend:
		return fmt.Sprintf("invalid ARTIFACT_BACKEND=%q (allowed: %q, %q, %q)", e.Backend, BackendGCS, BackendGCSEmulator, BackendMemory)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("ARTIFACT_BACKEND=%q requires ARTIFACT_GCS_BUCKET to be set", e.Backend)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("ARTIFACT_BACKEND=%q requires STORAGE_EMULATOR_HOST to be set", BackendGCSEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	default:
		return "invalid artifact storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Normalize fills the backend from the emulator host when unset and validates the result.
func (cfg Config) Normalize() (Config, error) {
	cfg.Backend = Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.EmulatorHost = strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	if cfg.Backend == "" {
		switch {
		case cfg.EmulatorHost != "":
			cfg.Backend = BackendGCSEmulator
		case cfg.Bucket != "":
			cfg.Backend = BackendGCS
		default:
			cfg.Backend = BackendMemory
		}
	}

	switch cfg.Backend {
	case BackendMemory:
		return cfg, nil
	case BackendGCS, BackendGCSEmulator:
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidBackend, Backend: string(cfg.Backend)}
	}
	if cfg.Bucket == "" {
		return cfg, &ConfigError{Code: ConfigErrorMissingBucket, Backend: string(cfg.Backend)}
	}
	if cfg.Backend != BackendGCSEmulator {
		return cfg, nil
	}
	if cfg.EmulatorHost == "" {
		return cfg, &ConfigError{Code: ConfigErrorMissingEmulatorHost, Backend: string(cfg.Backend)}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return cfg, &ConfigError{
			Code:         ConfigErrorInvalidEmulatorHost,
			Backend:      string(cfg.Backend),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return cfg, nil
}
