package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/yoshihiko555/takt/internal/core"
)

const providerOptionsPrefix = "TAKT_PROVIDER_OPTIONS_"

// applyEnvOverrides applies the strict TAKT environment overrides that viper
// cannot express: the strict-boolean TAKT_VERBOSE / TAKT_AUTO_PR and the
// typed TAKT_PROVIDER_OPTIONS_<PROVIDER>_<FIELD> family.
func applyEnvOverrides(cfg *Config) error {
	if raw, ok := os.LookupEnv("TAKT_VERBOSE"); ok {
		v, err := strictBool(raw)
		if err != nil {
			return core.ErrValidation("ENV_VERBOSE",
				fmt.Sprintf("TAKT_VERBOSE=%q %v", raw, err))
		}
		cfg.Verbose = v
	}
	if raw, ok := os.LookupEnv("TAKT_AUTO_PR"); ok {
		v, err := strictBool(raw)
		if err != nil {
			return core.ErrValidation("ENV_AUTO_PR",
				fmt.Sprintf("TAKT_AUTO_PR=%q %v", raw, err))
		}
		cfg.AutoPR = v
	}

	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, providerOptionsPrefix) {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		provider, field, ok := splitProviderOption(strings.TrimPrefix(key, providerOptionsPrefix))
		if !ok {
			return core.ErrValidation("ENV_PROVIDER_OPTIONS",
				fmt.Sprintf("malformed provider option variable %s", key))
		}
		if cfg.ProviderOptions == nil {
			cfg.ProviderOptions = make(map[string]map[string]interface{})
		}
		if cfg.ProviderOptions[provider] == nil {
			cfg.ProviderOptions[provider] = make(map[string]interface{})
		}
		cfg.ProviderOptions[provider][field] = typedValue(value)
	}
	return nil
}

// strictBool accepts exactly "true" or "false". 0/1/yes/no are rejected.
func strictBool(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, ErrStrictBool
	}
}

// splitProviderOption splits PROVIDER_FIELD on the first underscore. The
// provider segment never contains underscores; the field may.
func splitProviderOption(rest string) (provider, field string, ok bool) {
	provider, field, found := strings.Cut(rest, "_")
	if !found || provider == "" || field == "" {
		return "", "", false
	}
	return strings.ToLower(provider), strings.ToLower(field), true
}

// typedValue converts an env string to its natural type. Booleans are strict
// true/false strings; integers parse as int; everything else stays a string.
func typedValue(raw string) interface{} {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}
