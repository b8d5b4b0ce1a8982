package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/malbeclabs/playlake/pkg/duck"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the run configuration. It is built once, before the compute session, and passed
// explicitly to everything that needs it.
type Config struct {
	InputURI  string
	OutputURI string

	// Threads and MemoryLimit tune the compute session. Zero values keep the engine defaults.
	Threads     int
	MemoryLimit string

	// Lookup resolves the remaining settings, such as storage credentials.
	Lookup func(string) string
}

// Load builds a Config from lookup. Unset locations fall back to the defaults.
func Load(lookup func(string) string) (*Config, error) {
	if lookup == nil {
		return nil, fmt.Errorf("%w: lookup is required", ErrInvalidConfig)
	}

	cfg := &Config{
		InputURI:    valueOr(lookup(EnvVarInputURI), DefaultInputURI),
		OutputURI:   valueOr(lookup(EnvVarOutputURI), DefaultOutputURI),
		MemoryLimit: lookup(EnvVarMemoryLimit),
		Lookup:      lookup,
	}

	if v := lookup(EnvVarThreads); v != "" {
		threads, err := strconv.Atoi(v)
		if err != nil || threads < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer (got %q)", ErrInvalidConfig, EnvVarThreads, v)
		}
		cfg.Threads = threads
	}

	if err := duck.ValidateStorageURI(cfg.InputURI); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvVarInputURI, err)
	}
	if err := duck.ValidateStorageURI(cfg.OutputURI); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvVarOutputURI, err)
	}

	return cfg, nil
}

// LookupWithDotenv returns a lookup that resolves keys from the process environment first and
// then from the dotenv file at path. A missing file is not an error. The process environment is
// left untouched.
func LookupWithDotenv(path string) (func(string) string, error) {
	values := map[string]string{}
	if path != "" {
		read, err := godotenv.Read(path)
		switch {
		case err == nil:
			values = read
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
	}

	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return values[key]
	}, nil
}

// EnvFile returns the dotenv file named by the process environment, or the default.
func EnvFile() string {
	return valueOr(os.Getenv(EnvVarEnvFile), DefaultEnvFile)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
