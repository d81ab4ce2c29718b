package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts file operations so resolution is testable.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

type osFileSystem struct{}

func (osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Option customizes Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	fs         FileSystem
	configFile string
	envFile    string
}

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) Option {
	return func(o *loaderOptions) { o.fs = fs }
}

// WithConfigFile sets an explicit config file path, skipping the
// conventional search.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

var configSearchPaths = []string{
	"./config.yml",
	"./config/config.yml",
	"./cmd/dbguard/config.yml",
	"../config.yml",
	"../config/config.yml",
}

var envSearchPaths = []string{
	"./.env",
	"./config/.env",
	"../.env",
}

// Load reads configuration from a YAML file and the environment,
// applies defaults, and validates the result. A missing config file
// is not an error since every field has a usable default.
func Load(opts ...Option) (*Config, error) {
	var o loaderOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = osFileSystem{}
	}

	configFile := o.configFile
	if configFile == "" {
		configFile = firstExisting(o.fs, configSearchPaths)
	}
	envFile := o.envFile
	if envFile == "" {
		envFile = firstExisting(o.fs, envSearchPaths)
	}

	v := viper.New()

	if configFile != "" && o.fs.Exists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// Env vars override file values. DBGUARD_BREAKER_TIMEOUT maps to
	// breaker.timeout and so on.
	if envFile != "" && o.fs.Exists(envFile) {
		if err := o.fs.LoadEnv(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	v.SetEnvPrefix("DBGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvOverrides(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstExisting(fs FileSystem, paths []string) string {
	for _, path := range paths {
		if fs.Exists(path) {
			return path
		}
	}
	return ""
}

// bindEnvOverrides sets values for every DBGUARD_ variable present in
// the environment. AutomaticEnv alone only resolves keys viper has
// already seen, which misses sections absent from the config file.
func bindEnvOverrides(v *viper.Viper) {
	const prefix = "DBGUARD_"
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		raw := strings.ToLower(strings.TrimPrefix(pair[0], prefix))
		for _, key := range envKeyVariants(raw) {
			v.Set(key, pair[1])
		}
	}
}

// envKeyVariants maps an underscore-delimited env suffix to every
// nested viper key it could address, since both section names and
// field names may contain underscores. rate_limit_max_requests yields
// rate_limit.max_requests among others; only keys matching a real
// section take effect.
func envKeyVariants(raw string) []string {
	parts := strings.Split(raw, "_")
	variants := []string{parts[0]}
	for _, p := range parts[1:] {
		next := make([]string, 0, len(variants)*2)
		for _, v := range variants {
			next = append(next, v+"_"+p, v+"."+p)
		}
		variants = next
	}
	return variants
}
