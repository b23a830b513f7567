package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/panel"
)

// Manifest declares one plugin instance. Manifests live as individual YAML
// files in the plugins directory; their filename order fixes the rotation
// order.
type Manifest struct {
	// ID is the instance identity used in rotation, logs and on-demand
	// requests.
	ID string `yaml:"id"`

	// Type selects the factory that builds the plugin.
	Type string `yaml:"type"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Modes narrows the plugin's mode list for this instance.
	Modes []string `yaml:"modes"`

	// SliceDuration overrides the slice length, e.g. "25s".
	SliceDuration string `yaml:"slice_duration"`

	// Settings is passed verbatim to the plugin if it is Configurable.
	Settings map[string]any `yaml:"settings"`
}

// Env is what factories get to build a plugin with.
type Env struct {
	Panel   panel.Driver
	DataDir string
	Logger  zerolog.Logger
}

// Factory builds one plugin instance from its manifest.
type Factory func(env Env, m Manifest) (Plugin, error)

// LoadDir discovers manifests in dir and registers the resulting plugins.
// Files are processed in name order so operators control rotation order by
// filename prefix. A broken manifest skips that plugin and is reported in
// the joined error; the rest still load. Must run before the engine starts.
func LoadDir(dir string, factories map[string]Factory, env Env, reg *Registry, disabled []string) error {
	logger := log.WithComponent("registry")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().
				Str("event", "plugin.manifest_dir_missing").
				Str(log.FieldPath, dir).
				Msg("plugins directory does not exist, skipping discovery")
			return nil
		}
		return fmt.Errorf("read plugins dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := loadManifest(path, factories, env, reg, disabled); err != nil {
			logger.Error().
				Err(err).
				Str("event", "plugin.manifest_load_failed").
				Str(log.FieldPath, path).
				Msg("skipping plugin manifest")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func loadManifest(path string, factories map[string]Factory, env Env, reg *Registry, disabled []string) error {
	// #nosec G304 -- manifest paths come from the operator's plugins dir
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.ID == "" {
		return fmt.Errorf("manifest missing id")
	}
	if m.Type == "" {
		return fmt.Errorf("manifest %s missing type", m.ID)
	}

	factory, ok := factories[m.Type]
	if !ok {
		return fmt.Errorf("unknown plugin type %q", m.Type)
	}

	var manifestDur time.Duration
	if m.SliceDuration != "" {
		manifestDur, err = time.ParseDuration(m.SliceDuration)
		if err != nil {
			return fmt.Errorf("invalid slice_duration %q: %w", m.SliceDuration, err)
		}
	}

	p, err := factory(env.withPluginLogger(m.ID), m)
	if err != nil {
		return fmt.Errorf("build plugin: %w", err)
	}

	enabled := m.Enabled == nil || *m.Enabled
	for _, id := range disabled {
		if id == m.ID {
			enabled = false
		}
	}

	var d *Descriptor
	if enabled {
		d, err = reg.Register(p)
	} else {
		d, err = reg.RegisterDisabled(p)
	}
	if err != nil {
		return err
	}

	d.ManifestDuration = manifestDur
	if len(m.Modes) > 0 {
		narrowed, err := narrowModes(d.Modes, m.Modes)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", m.ID, err)
		}
		d.Modes = narrowed
	}

	if len(m.Settings) > 0 {
		if err := d.ApplySettings(m.Settings); err != nil {
			return fmt.Errorf("apply settings to %s: %w", m.ID, err)
		}
	}
	return nil
}

func (e Env) withPluginLogger(id string) Env {
	e.Logger = e.Logger.With().Str(log.FieldPlugin, id).Logger()
	return e
}

// narrowModes keeps the manifest's modes in manifest order, rejecting any
// the plugin does not actually support.
func narrowModes(supported, wanted []string) ([]string, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("manifest lists modes but plugin is modeless")
	}
	set := make(map[string]struct{}, len(supported))
	for _, m := range supported {
		set[m] = struct{}{}
	}
	out := make([]string, 0, len(wanted))
	for _, m := range wanted {
		if _, ok := set[m]; !ok {
			return nil, fmt.Errorf("manifest mode %q not supported by plugin", m)
		}
		out = append(out, m)
	}
	return out, nil
}
