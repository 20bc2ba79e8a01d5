// Package config loads the hello webview configuration from defaults, an
// optional hello.toml and HELLO_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. HELLO_EVENT_DELAY=2s.
	EnvPrefix  = "HELLO"
	configName = "hello"
)

type Config struct {
	App         AppConfig     `mapstructure:"app"`
	Window      WindowConfig  `mapstructure:"window"`
	Origin      string        `mapstructure:"origin"`
	Archive     ArchiveConfig `mapstructure:"archive"`
	CacheDir    string        `mapstructure:"cache_dir"`
	Event       EventConfig   `mapstructure:"event"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// Init holds key=value pairs exposed as window.__JUCE__.initialisationData.
	Init        []string      `mapstructure:"init"`
	UserScripts []string      `mapstructure:"user_scripts"`
	Notify      bool          `mapstructure:"notify"`
	Serve       ServeConfig   `mapstructure:"serve"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

type AppConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type WindowConfig struct {
	Title  string `mapstructure:"title"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

type ArchiveConfig struct {
	// Path of an external archive. Empty uses the embedded one.
	Path   string `mapstructure:"path"`
	Prefix string `mapstructure:"prefix"`
	// Dir serves an unpacked directory instead of an archive.
	Dir string `mapstructure:"dir"`
}

type EventConfig struct {
	ID            string        `mapstructure:"id"`
	Delay         time.Duration `mapstructure:"delay"`
	Payload       int           `mapstructure:"payload"`
	DirectPayload int           `mapstructure:"direct_payload"`
}

type ServeConfig struct {
	Addr  string `mapstructure:"addr"`
	Watch bool   `mapstructure:"watch"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ID:      "com.github.malivvan.hellowebview",
			Name:    "Hello World",
			Version: "1.0.0",
		},
		Window: WindowConfig{
			Title:  "Hello World",
			Width:  1024,
			Height: 768,
		},
		Origin:   "http://app.local",
		Archive:  ArchiveConfig{Prefix: "webview_files/"},
		CacheDir: filepath.Join(os.TempDir(), "HelloWebViewCache"),
		Event: EventConfig{
			ID:            "exampleEvent",
			Delay:         5 * time.Second,
			Payload:       42,
			DirectPayload: 67,
		},
		CallTimeout: 30 * time.Second,
		Init: []string{
			"vendor=COMPANY",
			"pluginName=PRODUCT",
			"pluginVersion=1.0.0",
		},
		UserScripts: []string{
			`console.log("backend here: This is run before any other loading happens");`,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:8080"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// InitialisationData parses Init. Keys keep their case, which viper would
// not preserve for a map.
func (c *Config) InitialisationData() (map[string]string, error) {
	data := make(map[string]string, len(c.Init))
	for _, pair := range c.Init {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("init entry %q: want key=value", pair)
		}
		data[strings.TrimSpace(key)] = value
	}
	return data, nil
}

// Manager handles configuration loading, watching, and reloading.
type Manager struct {
	config    *Config
	viper     *viper.Viper
	mu        sync.RWMutex
	callbacks []func(*Config)
	watching  bool
}

// NewManager creates a manager reading file when given, otherwise hello.*
// from the working directory or the user config directory.
func NewManager(file string) *Manager {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "hellowebview"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Manager{viper: v}
}

// Load reads defaults, the config file if present and the environment.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setDefaults()
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := m.decode()
	if err != nil {
		return err
	}
	m.config = config
	return nil
}

func (m *Manager) decode() (*Config, error) {
	config := &Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Origin = strings.TrimSuffix(config.Origin, "/")
	if err := validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func validate(c *Config) error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}
	if c.Event.ID == "" {
		return errors.New("event.id cannot be empty")
	}
	if c.Event.Delay < 0 {
		return fmt.Errorf("event.delay %s cannot be negative", c.Event.Delay)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout %s cannot be negative", c.CallTimeout)
	}
	if !strings.HasPrefix(c.Origin, "http://") && !strings.HasPrefix(c.Origin, "https://") {
		return fmt.Errorf("origin %q must be an http(s) url", c.Origin)
	}
	if _, err := c.InitialisationData(); err != nil {
		return err
	}
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return DefaultConfig()
	}
	configCopy := *m.config
	return &configCopy
}

// ConfigFileUsed is empty when no file was found.
func (m *Manager) ConfigFileUsed() string {
	return m.viper.ConfigFileUsed()
}

// OnConfigChange registers a callback called after every successful reload.
func (m *Manager) OnConfigChange(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Watch reloads the configuration when the file changes. Without a config
// file there is nothing to watch and Watch returns false.
func (m *Manager) Watch(onError func(error)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return true
	}
	if m.viper.ConfigFileUsed() == "" {
		return false
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		m.mu.Lock()
		if err := m.viper.ReadInConfig(); err != nil {
			m.mu.Unlock()
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		config, err := m.decode()
		if err != nil {
			m.mu.Unlock()
			if onError != nil {
				onError(err)
			}
			return
		}
		m.config = config
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, callback := range callbacks {
			configCopy := *config
			callback(&configCopy)
		}
	})
	m.viper.WatchConfig()
	m.watching = true
	return true
}

func (m *Manager) setDefaults() {
	d := DefaultConfig()
	m.viper.SetDefault("app.id", d.App.ID)
	m.viper.SetDefault("app.name", d.App.Name)
	m.viper.SetDefault("app.version", d.App.Version)
	m.viper.SetDefault("window.title", d.Window.Title)
	m.viper.SetDefault("window.width", d.Window.Width)
	m.viper.SetDefault("window.height", d.Window.Height)
	m.viper.SetDefault("origin", d.Origin)
	m.viper.SetDefault("archive.path", d.Archive.Path)
	m.viper.SetDefault("archive.prefix", d.Archive.Prefix)
	m.viper.SetDefault("archive.dir", d.Archive.Dir)
	m.viper.SetDefault("cache_dir", d.CacheDir)
	m.viper.SetDefault("event.id", d.Event.ID)
	m.viper.SetDefault("event.delay", d.Event.Delay)
	m.viper.SetDefault("event.payload", d.Event.Payload)
	m.viper.SetDefault("event.direct_payload", d.Event.DirectPayload)
	m.viper.SetDefault("call_timeout", d.CallTimeout)
	m.viper.SetDefault("init", d.Init)
	m.viper.SetDefault("user_scripts", d.UserScripts)
	m.viper.SetDefault("notify", d.Notify)
	m.viper.SetDefault("serve.addr", d.Serve.Addr)
	m.viper.SetDefault("serve.watch", d.Serve.Watch)
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.format", d.Logging.Format)
}
