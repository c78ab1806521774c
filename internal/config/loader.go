package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "gridstream.yaml"
	ConfigFileNameAlt = "gridstream.yml"
)

// maxUpwardSearchLevels limits how far up the directory tree to search
// for config files.
const maxUpwardSearchLevels = 10

func configExistsIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRoot searches upward from startDir for a gridstream config
// file. Returns startDir when none is found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return startDir
}

// Load loads configuration from file, environment variables and flags.
// cfgFile may be empty; the file is then searched upward from the
// working directory. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"state_path":      DefaultStateFile,
		"state_driver":    DefaultStateDriver,
		"providers_path":  DefaultProvidersFile,
		"instance_id":     DefaultInstanceID,
		"key_column":      DefaultKeyColumn,
		"notify_interval": DefaultNotifyInterval.String(),
		"connect_timeout": DefaultConnectTimeout.String(),
		"listen_addr":     DefaultListenAddr,
		"export_dir":      DefaultExportDir,
		"verbose":         false,
		"output":          DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	projectRoot, _ := os.Getwd()
	if projectRoot == "" {
		projectRoot = "."
	}
	if cfgFile == "" {
		projectRoot = findProjectRoot(projectRoot)
		cfgFile = configExistsIn(projectRoot)
	} else if abs, err := filepath.Abs(cfgFile); err == nil {
		projectRoot = filepath.Dir(abs)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables (GRIDSTREAM_ prefix)
	// Transform: GRIDSTREAM_STATE_PATH -> state_path
	if err := k.Load(env.Provider("GRIDSTREAM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "GRIDSTREAM_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			key := strings.ReplaceAll(f.Name, "-", "_")
			// The CLI uses --state for brevity; the config key is
			// state_path.
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal, decoding duration strings
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Anchor relative paths to the project root
	cfg.ProjectRoot = projectRoot
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	cfg.ProvidersPath = resolvePathRelativeTo(cfg.ProvidersPath, projectRoot)
	cfg.ExportDir = resolvePathRelativeTo(cfg.ExportDir, projectRoot)

	if cfg.StateDriver != "sqlite" && cfg.StateDriver != "postgres" {
		return nil, fmt.Errorf("invalid state_driver %q (want sqlite or postgres)", cfg.StateDriver)
	}
	if cfg.StateDriver == "postgres" && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("state_driver postgres requires postgres_dsn")
	}

	return &cfg, nil
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. Returns the path unchanged if it's empty, absolute, or
// ":memory:".
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
