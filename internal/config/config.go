// Package config loads and hot-reloads the driver's own deployment
// settings (seed list, pool sizing, timeouts, TLS, logging) from YAML.
// Grounded on JeelKantaria-db-bouncer's internal/config/config.go: the
// same ${VAR}-substitution-then-yaml.Unmarshal load path and
// fsnotify-backed Watcher, retargeted from per-tenant pool settings onto
// this driver's own client/topology/connection options.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a Client.
type Config struct {
	Hosts            []string      `yaml:"hosts"`
	ReplicaSet       string        `yaml:"replica_set"`
	DirectConnection bool          `yaml:"direct_connection"`
	LoadBalanced     bool          `yaml:"load_balanced"`
	AppName          string        `yaml:"app_name"`

	Auth Auth `yaml:"auth"`
	Pool Pool `yaml:"pool"`
	TLS  TLS  `yaml:"tls"`

	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	LocalThreshold         time.Duration `yaml:"local_threshold"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`

	Logging Logging `yaml:"logging"`
	Admin   Admin   `yaml:"admin"`
}

// Auth holds the credential used to authenticate every connection.
type Auth struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Source    string `yaml:"source"`
}

// Pool configures a server's connection Pool (spec.md §4.4).
type Pool struct {
	MaxPoolSize   uint64        `yaml:"max_pool_size"`
	MinPoolSize   uint64        `yaml:"min_pool_size"`
	MaxConnecting int64         `yaml:"max_connecting"`
	MaxIdleTime   time.Duration `yaml:"max_idle_time"`
}

// TLS configures the transport security used to dial every connection.
type TLS struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	Insecure   bool   `yaml:"insecure_skip_verify"`
}

// Logging configures the structured-log sink and per-component levels.
type Logging struct {
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components"`
}

// Admin configures the debug HTTP server exposing /healthz and /metrics.
type Admin struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

// Redacted returns a copy of cfg with the credential password masked, for
// logging a loaded configuration without leaking secrets.
func (c Config) Redacted() Config {
	cp := c
	if cp.Auth.Password != "" {
		cp.Auth.Password = "***REDACTED***"
	}
	return cp
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, leaving unmatched ones untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing file: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Hosts) == 0 {
		return fmt.Errorf("hosts: at least one seed address is required")
	}
	if cfg.Auth.Username != "" && cfg.Auth.Password == "" {
		return fmt.Errorf("auth: username set without a password")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pool.MaxPoolSize == 0 {
		cfg.Pool.MaxPoolSize = 100
	}
	if cfg.Pool.MaxConnecting == 0 {
		cfg.Pool.MaxConnecting = 2
	}
	if cfg.ServerSelectionTimeout == 0 {
		cfg.ServerSelectionTimeout = 30 * time.Second
	}
	if cfg.LocalThreshold == 0 {
		cfg.LocalThreshold = 15 * time.Millisecond
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "off"
	}
	if cfg.Admin.Bind == "" {
		cfg.Admin.Bind = "127.0.0.1:8999"
	}
}

// Watcher watches a config file for changes and calls the callback with
// the newly loaded config, debouncing rapid successive writes.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher and starts its run loop.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watching file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}
	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
