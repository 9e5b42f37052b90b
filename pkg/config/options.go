package config

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Options is the typed option record handed to the engine. Every field
// starts from the engine's documented default and is overlaid with the
// merged configuration.
type Options struct {
	Playbook  string `validate:"required"`
	Inventory string `validate:"required"`

	PrivateKeyFile string
	RemoteUser     string `validate:"required"`
	RemotePass     string
	Connection     string `validate:"required,plugin_name"`
	Timeout        int    `validate:"gte=1"`
	Forks          int    `validate:"gte=1"`
	Verbosity      int    `validate:"gte=0,lte=6"`

	Become       bool
	BecomeMethod string `validate:"required"`
	BecomeUser   string `validate:"required"`
	BecomePass   string

	VaultPassword string

	SSHCommonArgs string
	SSHExtraArgs  string

	Tags          []string `validate:"min=1"`
	SkipTags      []string
	Limit         string
	StartAtTask   string
	ExtraVars     []map[string]any
	Check         bool
	Diff          bool
	FlushCache    bool
	ForceHandlers bool
}

// DefaultOptions returns the engine's baseline options.
func DefaultOptions() Options {
	return Options{
		RemoteUser:   "root",
		Connection:   "smart",
		Timeout:      10,
		Forks:        5,
		BecomeMethod: "sudo",
		BecomeUser:   "root",
		Tags:         []string{"all"},
	}
}

var optionsValidate = newValidator()

// pluginName matches a short plugin name or a collection FQCN such as
// community.docker.docker.
var pluginName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("plugin_name", func(fl validator.FieldLevel) bool {
		return pluginName.MatchString(fl.Field().String())
	})
	return v
}

// NewOptions overlays cfg on the default baseline. playbook, inventory and
// privateKey are the resolved paths, which differ from the raw fields in cfg.
func NewOptions(cfg *Canonical, playbook, inventory, privateKey string) (*Options, error) {
	o := DefaultOptions()
	o.Playbook = playbook
	o.Inventory = inventory
	o.PrivateKeyFile = privateKey

	strs := map[string]*string{
		"remote_user":     &o.RemoteUser,
		"remote_pass":     &o.RemotePass,
		"connection":      &o.Connection,
		"become_method":   &o.BecomeMethod,
		"become_user":     &o.BecomeUser,
		"become_pass":     &o.BecomePass,
		"vault_password":  &o.VaultPassword,
		"ssh_common_args": &o.SSHCommonArgs,
		"ssh_extra_args":  &o.SSHExtraArgs,
		"limit":           &o.Limit,
		"start_at_task":   &o.StartAtTask,
	}
	for name, dst := range strs {
		if v, ok := cfg.String(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"timeout":   &o.Timeout,
		"forks":     &o.Forks,
		"verbosity": &o.Verbosity,
	}
	for name, dst := range ints {
		if v, ok := cfg.Int(name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"become":         &o.Become,
		"check":          &o.Check,
		"diff":           &o.Diff,
		"flush_cache":    &o.FlushCache,
		"force_handlers": &o.ForceHandlers,
	}
	for name, dst := range bools {
		if v, ok := cfg.Bool(name); ok {
			*dst = v
		}
	}

	if v, ok := cfg.Strings("tags"); ok && len(v) > 0 {
		o.Tags = slices.Clone(v)
	}
	if v, ok := cfg.Strings("skip_tags"); ok {
		o.SkipTags = slices.Clone(v)
	}
	for _, vars := range cfg.ExtraVars() {
		o.ExtraVars = append(o.ExtraVars, maps.Clone(vars))
	}

	if err := optionsValidate.Struct(&o); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	return &o, nil
}

// String renders the options with secrets masked.
func (o *Options) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "playbook=%s inventory=%s remote_user=%s connection=%s forks=%d timeout=%d",
		o.Playbook, o.Inventory, o.RemoteUser, o.Connection, o.Forks, o.Timeout)
	fmt.Fprintf(&b, " become=%t become_method=%s become_user=%s become_pass=%s",
		o.Become, o.BecomeMethod, o.BecomeUser, mask(o.BecomePass))
	fmt.Fprintf(&b, " remote_pass=%s vault_password=%s tags=%v skip_tags=%v verbosity=%d",
		mask(o.RemotePass), mask(o.VaultPassword), o.Tags, o.SkipTags, o.Verbosity)
	return b.String()
}
