package entitlements

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/crestline/gatekeeper/pkg/observability"
)

// moduleDefaults are the hard-coded base layer of the config merge, one
// document per module key. Industry presets and tenant limits layer on top.
var moduleDefaults = map[string]map[string]interface{}{
	"inventory": {
		"max_items":      1000,
		"max_locations":  5,
		"low_stock_alerts": true,
		"export": map[string]interface{}{
			"formats":       []interface{}{"csv"},
			"max_rows":      10000,
			"schedule_cron": "",
		},
	},
	"reporting": {
		"retention_days": 90,
		"max_dashboards": 10,
		"realtime":       false,
	},
	"scheduling": {
		"max_shifts_per_week": 50,
		"self_service_swaps":  false,
		"notice_hours":        24,
	},
	"messaging": {
		"max_channels":    20,
		"attachments":     true,
		"max_attachment_mb": 10,
	},
}

// ModuleDefaults returns a deep copy of the default document for a module
// key, or an empty document for an unknown key.
func ModuleDefaults(moduleKey string) map[string]interface{} {
	defaults, ok := moduleDefaults[moduleKey]
	if !ok {
		return map[string]interface{}{}
	}
	return deepCopy(defaults)
}

func deepCopy(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopy(m)
			continue
		}
		if s, ok := v.([]interface{}); ok {
			out[k] = append([]interface{}(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}

// PresetFile is the on-disk shape of industry presets: industry -> module
// key -> config document.
type PresetFile struct {
	Presets map[string]map[string]map[string]interface{} `yaml:"presets"`
}

// PresetSource serves industry preset documents from a YAML file and
// reloads it when the file changes.
type PresetSource struct {
	mu      sync.RWMutex
	presets map[string]map[string]map[string]interface{}

	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// NewPresetSource loads the preset file and starts watching it for changes.
// An empty path yields a source with no presets.
func NewPresetSource(path string, logger *observability.Logger) (*PresetSource, error) {
	s := &PresetSource{
		presets: map[string]map[string]map[string]interface{}{},
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
	}
	if path == "" {
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create preset watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch preset file: %w", err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *PresetSource) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read preset file: %w", err)
	}
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse preset file: %w", err)
	}
	if file.Presets == nil {
		file.Presets = map[string]map[string]map[string]interface{}{}
	}

	s.mu.Lock()
	s.presets = file.Presets
	s.mu.Unlock()
	return nil
}

func (s *PresetSource) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := s.load(); err != nil {
					// Keep serving the last good presets.
					s.logger.WithError(err).Warn("preset reload failed")
					continue
				}
				s.logger.WithField("path", s.path).Info("industry presets reloaded")
				// Editors that replace the file drop the watch.
				s.watcher.Add(s.path)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("preset watcher error")
		case <-s.done:
			return
		}
	}
}

// IndustryPreset returns the preset document for (industry, module key), or
// nil when no preset applies.
func (s *PresetSource) IndustryPreset(industry, moduleKey string) map[string]interface{} {
	if industry == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	modules, ok := s.presets[industry]
	if !ok {
		return nil
	}
	preset, ok := modules[moduleKey]
	if !ok {
		return nil
	}
	return deepCopy(preset)
}

// Close stops the file watcher
func (s *PresetSource) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
