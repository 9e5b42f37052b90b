package inventory

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

const (
	// DefaultPath is the inventory folder inside the playbook tree.
	DefaultPath = "inventory"

	// DefaultFile is the generated file name when none is given.
	DefaultFile = "inventory.ini"
)

// Config is the merged inventory section of source and params.
type Config struct {
	// Hosts is the raw hosts specification. Nil when absent.
	Hosts json.RawMessage

	// Path is the inventory folder relative to the playbook tree.
	Path string

	// File is the inventory file name inside Path.
	File string

	// Executable is a dynamic inventory script handed to the engine as is.
	Executable string
}

// MergeConfig overlays the params inventory section on the source one, key
// by key. Neither input is modified.
func MergeConfig(source, params map[string]json.RawMessage) (Config, error) {
	merged := make(map[string]json.RawMessage, len(source)+len(params))
	maps.Copy(merged, source)
	maps.Copy(merged, params)

	cfg := Config{Path: DefaultPath}
	if raw, ok := merged["hosts"]; ok && !isNull(raw) {
		cfg.Hosts = raw
	}
	fields := map[string]*string{
		"path":       &cfg.Path,
		"file":       &cfg.File,
		"executable": &cfg.Executable,
	}
	for key, dst := range fields {
		raw, ok := merged[key]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Config{}, fmt.Errorf("%w: inventory.%s must be a string", ErrInvalidSpec, key)
		}
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return cfg, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Output is what the engine receives as its inventory.
type Output struct {
	// Path is the inventory file, folder or executable.
	Path string

	// Text is the generated inventory, empty when nothing was generated.
	Text string

	// Dynamic is true when Path is a dynamic inventory executable.
	Dynamic bool
}

// Builder renders and writes inventories.
type Builder struct {
	logger *telemetry.Logger
}

// NewBuilder creates a builder.
func NewBuilder(logger *telemetry.Logger) *Builder {
	return &Builder{logger: logger.NewComponentLogger("inventory")}
}

// Build prepares the inventory under workDir.
//
// A dynamic executable is returned directly. Otherwise the inventory folder
// is created and, when spec is not nil, the rendered text is written to file
// (inventory.ini when file is empty). The engine gets the file path when a
// file name was given and the folder otherwise.
func (b *Builder) Build(spec *Spec, workDir, subpath, file, executable string) (*Output, error) {
	if executable != "" {
		b.logger.WithPath(executable).Info("using dynamic inventory")
		return &Output{Path: executable, Dynamic: true}, nil
	}

	if subpath == "" {
		subpath = DefaultPath
	}
	dir := config.JoinPath(workDir, subpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.logger.WithPath(dir).WithError(err).Error("cannot create inventory folder")
		return nil, fmt.Errorf("cannot create inventory folder '%s': %w", dir, err)
	}

	out := &Output{Path: dir}
	if file != "" {
		out.Path = filepath.Join(dir, file)
	} else {
		file = DefaultFile
	}

	if spec == nil {
		return out, nil
	}

	b.logger.WithField("kind", spec.Kind.String()).Debug("processing inventory")
	out.Text = b.Render(spec)

	target := filepath.Join(dir, file)
	if err := os.WriteFile(target, []byte(out.Text), 0o644); err != nil {
		b.logger.WithPath(target).WithError(err).Error("cannot write inventory")
		return nil, fmt.Errorf("cannot write inventory '%s': %w", target, err)
	}
	b.logger.WithPath(target).Info("inventory written")
	return out, nil
}

// BuildConfig parses cfg.Hosts, when present, and builds the inventory.
func (b *Builder) BuildConfig(cfg Config, workDir string) (*Output, error) {
	var spec *Spec
	if cfg.Executable == "" && cfg.Hosts != nil {
		var err error
		if spec, err = Parse(cfg.Hosts); err != nil {
			b.logger.WithError(err).Error("cannot parse inventory hosts")
			return nil, err
		}
	}
	return b.Build(spec, workDir, cfg.Path, cfg.File, cfg.Executable)
}
