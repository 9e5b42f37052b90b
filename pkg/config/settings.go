package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// EnvPrefix prefixes every environment override of the tool settings.
const EnvPrefix = "PLAYBOOK_RESOURCE_"

// Settings configures the resource binary itself, as opposed to the
// source/params envelope that configures a single run.
type Settings struct {
	Telemetry telemetry.Config `yaml:"telemetry"`
	Engine    EngineSettings   `yaml:"engine"`
	Fetch     FetchSettings    `yaml:"fetch"`
	History   HistorySettings  `yaml:"history"`
	Policy    PolicySettings   `yaml:"policy"`
}

// EngineSettings locates the automation engine.
type EngineSettings struct {
	// Binary is the ansible-playbook executable, looked up on PATH.
	Binary string `yaml:"binary" validate:"required"`

	// VaultPasswordCommand is handed to --vault-password-file; it must
	// echo its stdin so the password never touches the disk.
	VaultPasswordCommand string `yaml:"vault_password_command" validate:"required"`

	// Env is added to the engine environment.
	Env map[string]string `yaml:"env"`
}

// FetchSettings configures retrieval of the playbook repository.
type FetchSettings struct {
	// GitBinary is the git executable.
	GitBinary string `yaml:"git_binary" validate:"required"`

	// DeployKeyPath is where the git deploy key is written. A leading
	// "~/" is expanded to the invoking user's home directory.
	DeployKeyPath string `yaml:"deploy_key_path" validate:"required"`

	// S3Endpoint is the object storage host used for s3:// sources.
	S3Endpoint string `yaml:"s3_endpoint" validate:"required,hostname_port|fqdn|hostname"`

	// S3Region is the object storage region.
	S3Region string `yaml:"s3_region" validate:"required"`

	// S3Insecure disables TLS for the object storage connection.
	S3Insecure bool `yaml:"s3_insecure"`

	// SFTPKnownHosts enables host key checking for sftp:// sources.
	SFTPKnownHosts string `yaml:"sftp_known_hosts"`
}

// HistorySettings configures the optional run history database.
type HistorySettings struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`
}

// PolicySettings configures the pre-run policy guard. With no paths and
// no builtins the guard is off.
type PolicySettings struct {
	// Paths lists Rego files or folders of Rego files.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Builtins enables the policies shipped with the resource.
	Builtins bool `yaml:"builtins"`
}

// Enabled reports whether any policy is configured.
func (p PolicySettings) Enabled() bool {
	return p.Builtins || len(p.Paths) > 0
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Telemetry: *telemetry.DefaultConfig(),
		Engine: EngineSettings{
			Binary:               "ansible-playbook",
			VaultPasswordCommand: "cat",
			Env:                  map[string]string{},
		},
		Fetch: FetchSettings{
			GitBinary:     "git",
			DeployKeyPath: "~/.ssh/id_rsa",
			S3Endpoint:    "s3.amazonaws.com",
			S3Region:      "us-east-1",
		},
	}
}

// LoadSettings builds the settings from defaults, then the optional YAML
// file at path, then a .env file in the current directory, then the
// process environment. The result is validated.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read settings '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("cannot parse settings '%s': %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings, including the embedded telemetry configuration.
func (s *Settings) Validate() error {
	if err := optionsValidate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":               &s.Telemetry.Logging.Level,
		"LOG_FORMAT":              &s.Telemetry.Logging.Format,
		"LOG_OUTPUT":              &s.Telemetry.Logging.Output,
		"ENVIRONMENT":             &s.Telemetry.Environment,
		"TRACING_EXPORTER":        &s.Telemetry.Tracing.Exporter,
		"TRACING_ENDPOINT":        &s.Telemetry.Tracing.Endpoint,
		"METRICS_PUSHGATEWAY_URL": &s.Telemetry.Metrics.PushgatewayURL,
		"METRICS_TEXTFILE":        &s.Telemetry.Metrics.TextfilePath,
		"ENGINE_BINARY":           &s.Engine.Binary,
		"GIT_BINARY":              &s.Fetch.GitBinary,
		"DEPLOY_KEY_PATH":         &s.Fetch.DeployKeyPath,
		"S3_ENDPOINT":             &s.Fetch.S3Endpoint,
		"S3_REGION":               &s.Fetch.S3Region,
		"SFTP_KNOWN_HOSTS":        &s.Fetch.SFTPKnownHosts,
		"HISTORY_PATH":            &s.History.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"TRACING_ENABLED": &s.Telemetry.Tracing.Enabled,
		"METRICS_ENABLED": &s.Telemetry.Metrics.Enabled,
		"S3_INSECURE":     &s.Fetch.S3Insecure,
		"POLICY_BUILTINS": &s.Policy.Builtins,
	}
	if v, ok := lookup(EnvPrefix + "POLICY_PATHS"); ok {
		s.Policy.Paths = filepath.SplitList(v)
	}

	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}
	return nil
}
