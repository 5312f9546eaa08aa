package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// Environment variables that override configuration file values.
const (
	EnvOrg      = "PUSHAPI_ORG"
	EnvSource   = "PUSHAPI_SOURCE"
	EnvAPIKey   = "PUSHAPI_API_KEY"
	EnvPlatform = "PUSHAPI_PLATFORM"
)

var envVars = []string{EnvOrg, EnvSource, EnvAPIKey, EnvPlatform}

// Environment collects the override variables. Values from the dotenv file
// at dotenvPath are used unless the process environment sets the same
// variable. A missing dotenv file is not an error.
func Environment(fsys afero.Fs, dotenvPath string) (map[string]string, error) {
	env := make(map[string]string)

	if dotenvPath != "" {
		f, err := fsys.Open(dotenvPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open %s: %w", dotenvPath, err)
		default:
			values, err := godotenv.Parse(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", dotenvPath, err)
			}
			for _, k := range envVars {
				if v, ok := values[k]; ok {
					env[k] = v
				}
			}
		}
	}

	for _, k := range envVars {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}

	return env, nil
}

// ApplyEnv overrides fields with non-empty values from env.
func (c *Config) ApplyEnv(env map[string]string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
		}
	}

	set(&c.Org, EnvOrg)
	set(&c.Source, EnvSource)
	set(&c.APIKey, EnvAPIKey)
	set(&c.Platform, EnvPlatform)
}
