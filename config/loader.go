package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/discoverykit/logger"
)

// FileSystem abstracts the file operations of the loader for tests.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem on the local disk.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadEnv loads a .env file. Variables already set in the process win.
func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver finds the config and env files of a service.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns the explicit paths from opts, searching the standard
// locations for whichever is missing.
func (r *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = r.first(configCandidates(serviceName))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = r.first(envCandidates(serviceName))
	}
	return resolved
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// configCandidates lists config file locations, most specific first:
// cmd/<service>/, config/<service>.yml, config/, then the working directory.
func configCandidates(serviceName string) []string {
	var paths []string
	for _, dir := range []string{".", "..", "../.."} {
		for _, name := range []string{"config.yml", "config.yaml"} {
			paths = append(paths, fmt.Sprintf("%s/cmd/%s/%s", dir, serviceName, name))
		}
	}
	for _, dir := range []string{".", ".."} {
		paths = append(paths,
			fmt.Sprintf("%s/config/%s.yml", dir, serviceName),
			fmt.Sprintf("%s/config/%s.yaml", dir, serviceName),
			fmt.Sprintf("%s/config/config.yml", dir),
		)
	}
	return append(paths, "./config.yml", "./config.yaml")
}

// envCandidates lists .env locations: .env.<service> is preferred to .env
// in every directory.
func envCandidates(serviceName string) []string {
	dirs := []string{
		"./cmd/" + serviceName,
		"../cmd/" + serviceName,
		"./config",
		"../config",
		".",
		"..",
	}
	var paths []string
	for _, file := range []string{".env." + serviceName, ".env"} {
		for _, dir := range dirs {
			paths = append(paths, dir+"/"+file)
		}
	}
	return paths
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // explicit config file path (optional)
	EnvFile    string // explicit .env path (optional)
	EnvPrefix  string // prefix of override variables, e.g. "AGENT"
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix sets the prefix of environment overrides.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// LoadConfig loads configuration for a service into cfg, which must be a
// pointer to a struct with mapstructure tags. Sources in increasing
// precedence: config file, .env file, process environment.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = RealFileSystem{}
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)
	return load(serviceName, cfg, files, lc)
}

func load(serviceName string, cfg any, files ResolvedFiles, lc LoaderConfig) error {
	v := viper.New()

	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
		}
		logger.Debug("config file loaded", logger.Fields("path", files.ConfigFile))
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			logger.Warn("failed to load .env file", logger.Fields(
				"path", files.EnvFile,
				logger.FieldError, err.Error(),
			))
		}
	}

	if lc.EnvPrefix != "" {
		v.SetEnvPrefix(lc.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows; bind every leaf
	// of the target so overrides work without a config file entry.
	for _, key := range EnvKeys(cfg) {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// EnvKeys returns the dotted mapstructure path of every scalar or slice
// leaf of cfg. Squashed embedded structs contribute their fields at the
// parent level. Maps and slices of structs are skipped: they cannot be
// expressed as a single variable.
func EnvKeys(cfg any) []string {
	var keys []string
	collectKeys(reflect.TypeOf(cfg), "", &keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && strings.Contains(opts, "squash") {
			collectKeys(f.Type, prefix, keys)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch {
		case ft == durationType:
			*keys = append(*keys, key)
		case ft.Kind() == reflect.Struct:
			collectKeys(ft, key, keys)
		case ft.Kind() == reflect.Map:
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct:
		default:
			*keys = append(*keys, key)
		}
	}
}
