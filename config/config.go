package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"devgate/logger"
	"devgate/models"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ScriptExecTarget is the hosted script endpoint the default /api rule forwards to.
const ScriptExecTarget = "https://script.google.com/macros/s/AKfycbwrsz8T1TkPfaNqZi4rodQVcllOYJWI99UG03-45GW8bHOa5A0aHkUFtVgqdpkFyF2b/exec"

type DefaultPaths struct {
	ConfigDir    string
	LogPathApp   string
	LogPathProxy string
	DBPath       string
	LogLevel     string
}

type Configuration struct {
	Server struct {
		Host            string        `mapstructure:"host" yaml:"host"`
		Port            string        `mapstructure:"port" yaml:"port"`
		StaticDir       string        `mapstructure:"static_dir" yaml:"static_dir"`
		Index           string        `mapstructure:"index" yaml:"index"`
		AdminPrefix     string        `mapstructure:"admin_prefix" yaml:"admin_prefix"`
		LogPath         string        `mapstructure:"log_path" yaml:"log_path"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	} `mapstructure:"server" yaml:"server"`
	Proxy struct {
		Rules         []models.ProxyRule `mapstructure:"rules" yaml:"rules"`
		ForwardPort   string             `mapstructure:"forward_port" yaml:"forward_port"`
		ForwardHosts  []string           `mapstructure:"forward_hosts" yaml:"forward_hosts"`
		LogPath       string             `mapstructure:"log_path" yaml:"log_path"`
		RecordTraffic bool               `mapstructure:"record_traffic" yaml:"record_traffic"`
		MaxBodyBytes  int64              `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	} `mapstructure:"proxy" yaml:"proxy"`
	Plugins  []models.PluginSpec `mapstructure:"-" yaml:"plugins"`
	Database struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"database" yaml:"database"`
	Logging struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"logging" yaml:"logging"`
	Admin struct {
		Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
		RateLimit int  `mapstructure:"rate_limit" yaml:"rate_limit"`
	} `mapstructure:"admin" yaml:"admin"`
}

var (
	AppConfig Configuration

	mu         sync.Mutex
	activeView *viper.Viper
)

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func GetDefaultConfigPaths() DefaultPaths {
	var paths DefaultPaths
	userConfigDirBase, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get user config dir: %v. Using current directory.\n", err)
		userConfigDirBase = "."
	}

	userConfigDir, err := expandTilde(userConfigDirBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in user config dir '%s': %v. Using potentially literal path.\n", userConfigDirBase, err)
		userConfigDir = userConfigDirBase
	}

	paths.ConfigDir = filepath.Join(userConfigDir, "devgate")
	logDir := filepath.Join(paths.ConfigDir, "logs")
	paths.LogPathApp = filepath.Join(logDir, "app.log")
	paths.LogPathProxy = filepath.Join(logDir, "proxy.log")
	paths.DBPath = filepath.Join(paths.ConfigDir, "devgate.db")
	paths.LogLevel = "INFO"
	return paths
}

// DefaultRules is the rule set used when no configuration names any: /api goes to the
// script endpoint with the origin rewritten and the /api prefix removed.
func DefaultRules() []models.ProxyRule {
	return []models.ProxyRule{{
		Prefix:       "/api",
		Target:       ScriptExecTarget,
		ChangeOrigin: true,
		Rewrite:      &models.RewriteRule{Pattern: "^/api", Replace: ""},
	}}
}

func setDefaults(v *viper.Viper, defaults DefaultPaths) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "5173")
	v.SetDefault("server.static_dir", ".")
	v.SetDefault("server.index", "index.html")
	v.SetDefault("server.admin_prefix", "/__devgate")
	v.SetDefault("server.log_path", defaults.LogPathApp)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	var rules []interface{}
	for _, r := range DefaultRules() {
		rules = append(rules, map[string]interface{}{
			"prefix":        r.Prefix,
			"target":        r.Target,
			"change_origin": r.ChangeOrigin,
			"rewrite":       map[string]interface{}{"pattern": r.Rewrite.Pattern, "replace": r.Rewrite.Replace},
		})
	}
	v.SetDefault("proxy.rules", rules)
	v.SetDefault("proxy.forward_port", "8778")
	v.SetDefault("proxy.forward_hosts", []string{})
	v.SetDefault("proxy.log_path", defaults.LogPathProxy)
	v.SetDefault("proxy.record_traffic", true)
	v.SetDefault("proxy.max_body_bytes", 1<<20)

	v.SetDefault("plugins", []interface{}{"spa"})
	v.SetDefault("database.path", defaults.DBPath)
	v.SetDefault("logging.level", defaults.LogLevel)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.rate_limit", 120)
}

// Init loads configuration from cfgFile (or the default search paths), the environment
// and the given flag overrides into AppConfig, then re-initialises the loggers.
func Init(cfgFile string, flagAppLogPath, flagProxyLogPath, flagLogLevel string) error {
	v := viper.New()

	defaults := GetDefaultConfigPaths()
	setDefaults(v, defaults)

	if cfgFile != "" {
		expandedCfgFile, err := expandTilde(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in config file path '%s': %v. Trying original path.\n", cfgFile, err)
			expandedCfgFile = cfgFile
		}
		v.SetConfigFile(expandedCfgFile)
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(defaults.ConfigDir)
		v.SetConfigName("devgate")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DEVGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configUsedMsg := "Using default/environment configuration."
	readErr := v.ReadInConfig()
	if readErr == nil {
		configUsedMsg = fmt.Sprintf("Using config file: %s", v.ConfigFileUsed())
	} else {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "No default config file found. Using defaults/environment variables.")
		} else if os.IsNotExist(readErr) {
			fmt.Fprintf(os.Stderr, "Warning: Config file specified by flag (%s) not found: %v\n", cfgFile, readErr)
		} else {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", v.ConfigFileUsed(), readErr)
			return fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), readErr)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Error unmarshalling configuration: %v\n", err)
		return err
	}

	if flagAppLogPath != "" {
		cfg.Server.LogPath = flagAppLogPath
	}
	if flagProxyLogPath != "" {
		cfg.Proxy.LogPath = flagProxyLogPath
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = strings.ToUpper(flagLogLevel)
	}
	for _, p := range []*string{&cfg.Server.LogPath, &cfg.Proxy.LogPath, &cfg.Database.Path, &cfg.Server.StaticDir} {
		if expanded, err := expandTilde(*p); err == nil {
			*p = expanded
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in '%s': %v.\n", *p, err)
		}
	}

	if err := logger.InitGlobalLoggers(cfg.Server.LogPath, cfg.Proxy.LogPath, cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to initialize global loggers with final config: %v\n", err)
		return fmt.Errorf("failed to initialize global loggers with final config: %w", err)
	}

	mu.Lock()
	AppConfig = cfg
	activeView = v
	mu.Unlock()

	logger.Info("%s", configUsedMsg)
	if flagAppLogPath != "" || flagProxyLogPath != "" || flagLogLevel != "" {
		logger.Info("Log path/level flags may have overridden config file/defaults.")
	}
	logger.Info("Loaded %d proxy rule(s) and %d plugin(s).", len(cfg.Proxy.Rules), len(cfg.Plugins))
	logger.Debug("Final AppConfig Initialized: %+v", cfg)
	return nil
}

func decode(v *viper.Viper) (Configuration, error) {
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	plugins, err := parsePlugins(v.Get("plugins"))
	if err != nil {
		return cfg, err
	}
	cfg.Plugins = plugins
	return cfg, nil
}

// parsePlugins accepts a list whose items are plugin names or {name, settings} maps,
// or a comma separated string as set from the environment.
func parsePlugins(raw interface{}) ([]models.PluginSpec, error) {
	specs := []models.PluginSpec{}
	switch val := raw.(type) {
	case nil:
		return specs, nil
	case string:
		for _, name := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' }) {
			specs = append(specs, models.PluginSpec{Name: name})
		}
		return specs, nil
	case []string:
		for _, name := range val {
			specs = append(specs, models.PluginSpec{Name: name})
		}
		return specs, nil
	}

	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("plugins must be a list: %w", err)
	}
	for i, item := range items {
		if name, ok := item.(string); ok {
			specs = append(specs, models.PluginSpec{Name: name})
			continue
		}
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("plugins[%d]: expected a name or a map: %w", i, err)
		}
		name := cast.ToString(m["name"])
		if name == "" {
			return nil, fmt.Errorf("plugins[%d]: name is required", i)
		}
		spec := models.PluginSpec{Name: name}
		if s, ok := m["settings"]; ok && s != nil {
			spec.Settings = cast.ToStringMap(s)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RuleMap keys rules by prefix, rejecting empty and duplicate prefixes.
func RuleMap(rules []models.ProxyRule) (map[string]models.ProxyRule, error) {
	out := make(map[string]models.ProxyRule, len(rules))
	for i, r := range rules {
		if r.Prefix == "" {
			return nil, fmt.Errorf("proxy.rules[%d]: %w", i, models.ErrEmptyPrefix)
		}
		if _, dup := out[r.Prefix]; dup {
			return nil, fmt.Errorf("proxy.rules[%d]: %w: duplicate prefix %q", i, models.ErrInvalidRule, r.Prefix)
		}
		out[r.Prefix] = r
	}
	return out, nil
}

// Current returns a copy of the active configuration.
func Current() Configuration {
	mu.Lock()
	defer mu.Unlock()
	return AppConfig
}

// Watch re-reads the config file whenever it changes on disk and hands the decoded result
// to onChange. AppConfig is only replaced when decoding succeeds. It reports false when no
// config file is in use.
func Watch(onChange func(Configuration, error)) bool {
	mu.Lock()
	v := activeView
	mu.Unlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed (%s): %s", e.Op, e.Name)
		cfg, err := decode(v)
		if err == nil {
			mu.Lock()
			prev := AppConfig
			cfg.Server.LogPath, cfg.Proxy.LogPath = prev.Server.LogPath, prev.Proxy.LogPath
			cfg.Logging.Level = prev.Logging.Level
			AppConfig = cfg
			mu.Unlock()
		} else {
			logger.Error("Reloading config: %v", err)
		}
		onChange(cfg, err)
	})
	v.WatchConfig()
	logger.Info("Watching %s for changes.", v.ConfigFileUsed())
	return true
}
