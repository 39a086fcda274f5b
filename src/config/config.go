// Package config loads the service configuration from a YAML or JSON file
// with environment overrides, applies declared defaults, and validates the
// result before anything touches the store.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cenv "github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kraw "github.com/knadh/koanf/providers/rawbytes"
	kfn "github.com/knadh/koanf/v2"
)

func LoadConfig() (cfg *Config, err error) {
	envCfg := EnvConfig{}
	err = cenv.Parse(&envCfg)
	if err != nil {
		return
	}
	validate := validator.New()
	err = validate.Struct(&envCfg)

	if err != nil {
		return nil, fmt.Errorf("failed to load environment configuration: %w", err)
	}

	if envCfg.ConfigContent != "" {
		slog.Info("loading configuration from content", "format", envCfg.ConfigFormat)
		return loadConfigContent(envCfg.ConfigContent, envCfg.ConfigFormat)
	}

	slog.Info("loading configuration file", "path", envCfg.ConfigFilePath)
	return loadConfigFile(envCfg.ConfigFilePath)
}

// loadConfigFile loads configuration from a file (YAML or JSON) and merges environment overrides.
// Environment variables use the prefix "TQ_" and map to keys by:
// - trimming the prefix
// - lowercasing
// - replacing "__" with "." (double underscore denotes nesting)
func loadConfigFile(path string) (cfg *Config, err error) {
	absPath, e := filepath.Abs(path)
	if e != nil {
		return nil, e
	}

	if _, e = os.Stat(absPath); e != nil {
		return nil, fmt.Errorf("error opening config file: %w", e)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	var parser kfn.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		return nil, &UnsupportedExtensionError{Extension: ext}
	}

	k := kfn.New(".")
	if e = k.Load(kfile.Provider(absPath), parser); e != nil {
		return nil, fmt.Errorf("error loading config file: %w", e)
	}

	return finalize(k)
}

// loadConfigContent loads configuration from raw YAML/JSON content and merges environment overrides.
// If format is empty, attempts to auto-detect (JSON if trimmed content starts with '{').
func loadConfigContent(content string, format string) (cfg *Config, err error) {
	trimmed := strings.TrimSpace(content)
	f := strings.ToLower(strings.TrimSpace(format))
	var parser kfn.Parser
	switch f {
	case "yaml", "yml":
		parser = kyaml.Parser()
	case "json":
		parser = kjson.Parser()
	case "":
		if strings.HasPrefix(trimmed, "{") {
			parser = kjson.Parser()
		} else {
			parser = kyaml.Parser()
		}
	default:
		return nil, &UnsupportedExtensionError{Extension: f}
	}

	k := kfn.New(".")
	if err = k.Load(kraw.Provider([]byte(content)), parser); err != nil {
		return nil, fmt.Errorf("error loading config content: %w", err)
	}

	return finalize(k)
}

// finalize merges env overrides, applies defaults, decodes and validates.
func finalize(k *kfn.Koanf) (*Config, error) {
	loadEnv(k)

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("error applying config defaults: %w", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("error building config decoder: %w", err)
	}
	if err := dec.Decode(k.Raw()); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	resolved, err := resolveSecret(cfg.Store.ConnString)
	if err != nil {
		return nil, fmt.Errorf("error resolving store connection string: %w", err)
	}
	cfg.Store.ConnString = resolved

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecret resolves "env:NAME" and "file:/path" indirections so
// credentials never have to live in the config file itself. Any other
// value is returned as-is.
func resolveSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, "env:"):
		name := strings.TrimPrefix(value, "env:")
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %q is not set", name)
		}
		return v, nil
	case strings.HasPrefix(value, "file:"):
		b, err := os.ReadFile(strings.TrimPrefix(value, "file:"))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return value, nil
	}
}

func loadEnv(k *kfn.Koanf) {
	// Allow overriding config via environment variables with prefix TQ_.
	// Example: TQ_STORE__POOLSIZE=20 overrides store.poolSize.
	const prefix = "TQ_"
	_ = k.Load(kenv.Provider(prefix, ".", func(s string) string {
		// Transform: TQ_FOO__BAR__BAZ -> foo.bar.baz
		noPrefix := strings.TrimPrefix(s, prefix)
		noPrefix = strings.ToLower(noPrefix)
		// Double underscore becomes dot for nesting
		noPrefix = strings.ReplaceAll(noPrefix, "__", ".")
		return noPrefix
	}), nil)
}

type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	return "unsupported config file extension: " + e.Extension
}
