// Package config holds the YAML configuration consumed by the macro
// CLI and server. The conversion library itself takes explicit options;
// this package only exists so deployments can tune them from a file.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML structure.
type Config struct {
	Scenario ScenarioConf `yaml:"scenario"`
	Layout   LayoutConf   `yaml:"layout"`
	Paging   PagingConf   `yaml:"paging"`
	Storage  StorageConf  `yaml:"storage"`
	Registry RegistryConf `yaml:"registry"`
	Listen   string       `yaml:"listen"`
}

type ScenarioConf struct {
	ProjectID   int64 `yaml:"project_id"`
	StudyID     int64 `yaml:"study_id"`
	ScenarioID  int64 `yaml:"scenario_id"`
	InfraID     int64 `yaml:"infra_id"`
	TimetableID int64 `yaml:"timetable_id"`
}

// LayoutConf tunes the geographic layout pass.
type LayoutConf struct {
	CanvasWidth  int     `yaml:"canvas_width"`
	CanvasHeight int     `yaml:"canvas_height"`
	Padding      float64 `yaml:"padding"`
	GridColumns  int     `yaml:"grid_columns"`
	GridSpacing  int     `yaml:"grid_spacing"`
}

type PagingConf struct {
	PageSize int `yaml:"page_size"`
}

// StorageConf selects the node persistence backend: "memory", "sqlite"
// or "postgres".
type StorageConf struct {
	Backend   string `yaml:"backend"`
	Directory string `yaml:"directory"`
	ConnStr   string `yaml:"conn_str"`
}

// RegistryConf points at the operational-point CSV export.
type RegistryConf struct {
	Path string `yaml:"path"`
}

// Default returns a config with the library defaults filled in.
func Default() *Config {
	return &Config{
		Layout: LayoutConf{
			CanvasWidth:  800,
			CanvasHeight: 500,
			Padding:      0.1,
			GridColumns:  8,
			GridSpacing:  200,
		},
		Paging:  PagingConf{PageSize: 100},
		Storage: StorageConf{Backend: "memory"},
		Listen:  ":8080",
	}
}

// Validate rejects configurations the commands cannot act on.
func Validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
	case "postgres":
		if cfg.Storage.ConnStr == "" {
			return fmt.Errorf("postgres backend requires storage.conn_str")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Paging.PageSize <= 0 {
		return fmt.Errorf("paging.page_size must be positive")
	}
	if cfg.Layout.Padding < 0 || cfg.Layout.Padding >= 0.5 {
		return fmt.Errorf("layout.padding must be in [0, 0.5)")
	}
	return nil
}

// Loader reads a YAML config file and can watch it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that reloads the config on file
// changes. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						// Keep serving the old config.
						continue
					}
					l.mu.Lock()
					l.current = cfg
					callbacks := make([]func(*Config), len(l.onChange))
					copy(callbacks, l.onChange)
					l.mu.Unlock()
					for _, fn := range callbacks {
						fn(cfg)
					}
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
