// Package config loads asiaq-container settings.
//
// Values are layered lowest to highest: built-in defaults, the config file,
// ASIAQ_CONTAINER_* environment variables, then command-line flags passed
// in as overrides. The config file may be YAML or JSON; JSON files may
// carry comments (JSONC), which are stripped with github.com/tidwall/jsonc
// before parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/asiaq-container/internal/image"
	"github.com/shinji-kodama/asiaq-container/internal/model"
)

// EnvPrefix is prepended to environment variable overrides, e.g.
// ASIAQ_CONTAINER_IMAGE_TAG overrides image.tag.
const EnvPrefix = "ASIAQ_CONTAINER"

// configFileNames are probed in order inside the config directory.
var configFileNames = []string{"config.yaml", "config.yml", "config.jsonc", "config.json"}

// Config is the full set of settings.
type Config struct {
	// Engine is the container CLI used to run tools ("docker" or "podman").
	Engine string `mapstructure:"engine" yaml:"engine" json:"engine"`

	// BinDir is where alias symlinks are created.
	BinDir string `mapstructure:"bin_dir" yaml:"bin_dir" json:"binDir"`

	Image ImageConfig `mapstructure:"image" yaml:"image" json:"image"`
	Run   RunConfig   `mapstructure:"run" yaml:"run" json:"run"`
}

// ImageConfig controls how the toolkit image is built.
type ImageConfig struct {
	Tag           string `mapstructure:"tag" yaml:"tag" json:"tag"`
	PythonVersion string `mapstructure:"python_version" yaml:"python_version" json:"pythonVersion"`
	AsiaqRepo     string `mapstructure:"asiaq_repo" yaml:"asiaq_repo" json:"asiaqRepo"`
	AsiaqRef      string `mapstructure:"asiaq_ref" yaml:"asiaq_ref" json:"asiaqRef"`
	ToolDir       string `mapstructure:"tool_dir" yaml:"tool_dir" json:"toolDir"`

	// ResolveRef pins AsiaqRef to a commit with git ls-remote before building.
	ResolveRef bool `mapstructure:"resolve_ref" yaml:"resolve_ref" json:"resolveRef"`
}

// MountConfig is a configured bind mount. Source may start with "~/".
type MountConfig struct {
	Source   string `mapstructure:"source" yaml:"source" json:"source"`
	Target   string `mapstructure:"target" yaml:"target" json:"target"`
	ReadOnly bool   `mapstructure:"read_only" yaml:"read_only" json:"readOnly"`
}

// RunConfig controls what an alias forwards into the container.
type RunConfig struct {
	// Mounts are credential-adjacent files mounted into fixed container paths.
	Mounts []MountConfig `mapstructure:"mounts" yaml:"mounts" json:"mounts"`

	// Env names host variables forwarded when set.
	Env []string `mapstructure:"env" yaml:"env" json:"env"`

	// ForwardSSHAgent mounts $SSH_AUTH_SOCK into the container.
	ForwardSSHAgent bool `mapstructure:"forward_ssh_agent" yaml:"forward_ssh_agent" json:"forwardSshAgent"`

	// MountWorkdir mounts the current directory at Workdir.
	MountWorkdir bool `mapstructure:"mount_workdir" yaml:"mount_workdir" json:"mountWorkdir"`

	// Workdir is the container path used as the working directory.
	Workdir string `mapstructure:"workdir" yaml:"workdir" json:"workdir"`

	// ExtraArgs is a shell-quoted string of additional "docker run" flags.
	ExtraArgs string `mapstructure:"extra_args" yaml:"extra_args" json:"extraArgs"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	spec := image.DefaultSpec()
	return &Config{
		Engine: "docker",
		BinDir: "~/.local/bin",
		Image: ImageConfig{
			Tag:           spec.Tag,
			PythonVersion: spec.PythonVersion,
			AsiaqRepo:     spec.AsiaqRepo,
			AsiaqRef:      spec.AsiaqRef,
			ToolDir:       spec.ToolDir,
			ResolveRef:    true,
		},
		Run: RunConfig{
			Mounts: []MountConfig{
				{Source: "~/.aws/config", Target: "/root/.aws/config", ReadOnly: true},
				{Source: "~/.aws/credentials", Target: "/root/.aws/credentials", ReadOnly: true},
			},
			Env:             []string{"AWS_PROFILE", "SPOTINST_TOKEN", "SSH_AUTH_SOCK"},
			ForwardSSHAgent: true,
			MountWorkdir:    true,
			Workdir:         "/workspace",
		},
	}
}

// LoadOptions customises Load.
type LoadOptions struct {
	// ConfigFile forces a specific file. It must exist.
	ConfigFile string

	// ConfigDir overrides the directory probed for config files.
	ConfigDir string

	// Overrides are dotted keys (e.g., "image.tag") set from flags.
	Overrides map[string]any
}

// Load resolves the effective configuration. It returns the config and the
// path of the file that was read, or "" when defaults were used.
//
// Errors are model.CLIErrors with ExitConfigError.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := readInto(v, path); err != nil {
			return nil, "", model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to load config file %s", path), err)
		}
		log.Debug().Str("path", path).Msg("loaded config file")
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", model.WrapCLIError(model.ExitConfigError, "failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", model.WrapCLIError(model.ExitConfigError, "invalid config", err)
	}
	return &cfg, path, nil
}

// setDefaults registers every key with viper. Registering each key is what
// makes AutomaticEnv consider it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine", d.Engine)
	v.SetDefault("bin_dir", d.BinDir)
	v.SetDefault("image.tag", d.Image.Tag)
	v.SetDefault("image.python_version", d.Image.PythonVersion)
	v.SetDefault("image.asiaq_repo", d.Image.AsiaqRepo)
	v.SetDefault("image.asiaq_ref", d.Image.AsiaqRef)
	v.SetDefault("image.tool_dir", d.Image.ToolDir)
	v.SetDefault("image.resolve_ref", d.Image.ResolveRef)
	v.SetDefault("run.mounts", d.Run.Mounts)
	v.SetDefault("run.env", d.Run.Env)
	v.SetDefault("run.forward_ssh_agent", d.Run.ForwardSSHAgent)
	v.SetDefault("run.mount_workdir", d.Run.MountWorkdir)
	v.SetDefault("run.workdir", d.Run.Workdir)
	v.SetDefault("run.extra_args", d.Run.ExtraArgs)
}

// resolvePath finds the config file to read. An explicit file must exist;
// a missing file in the config directory just means defaults.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("config file %s not readable", opts.ConfigFile), err)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		dir, err = Dir()
		if err != nil {
			log.Debug().Err(err).Msg("no config directory; using defaults")
			return "", nil
		}
	}

	for _, name := range configFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// readInto parses path into v according to its extension.
func readInto(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
		v.SetConfigType("json")
	default:
		return fmt.Errorf("unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}
	return v.ReadConfig(bytes.NewReader(data))
}

// Dir returns the default config directory, $XDG_CONFIG_HOME/asiaq-container
// on Linux.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, model.BinaryName), nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Engine == "" {
		return errors.New("engine must not be empty")
	}
	if c.BinDir == "" {
		return errors.New("bin_dir must not be empty")
	}
	spec := c.ImageSpec()
	if err := spec.Validate(); err != nil {
		return err
	}
	for _, m := range c.Run.Mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("run.mounts: entry %+v needs both source and target", m)
		}
		if !strings.HasPrefix(m.Target, "/") {
			return fmt.Errorf("run.mounts: target %q must be an absolute container path", m.Target)
		}
	}
	if c.Run.MountWorkdir && !strings.HasPrefix(c.Run.Workdir, "/") {
		return fmt.Errorf("run.workdir %q must be an absolute container path", c.Run.Workdir)
	}
	if _, err := c.ExtraRunArgs(); err != nil {
		return err
	}
	return nil
}

// ImageSpec converts the image section into the build description.
func (c *Config) ImageSpec() model.ImageSpec {
	return model.ImageSpec{
		Tag:           c.Image.Tag,
		PythonVersion: c.Image.PythonVersion,
		AsiaqRepo:     c.Image.AsiaqRepo,
		AsiaqRef:      c.Image.AsiaqRef,
		ToolDir:       c.Image.ToolDir,
	}
}

// ExtraRunArgs splits run.extra_args with shell quoting rules.
func (c *Config) ExtraRunArgs() ([]string, error) {
	if strings.TrimSpace(c.Run.ExtraArgs) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(c.Run.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("run.extra_args: %w", err)
	}
	return args, nil
}

// ResolvedBinDir returns BinDir with "~" expanded.
func (c *Config) ResolvedBinDir() (string, error) {
	return ExpandHome(c.BinDir)
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default config as YAML to path, creating parent
// directories. An existing file is only overwritten when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("config file %s already exists (use --force to overwrite)", path))
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("cannot access %s", path), err)
	}

	data, err := Marshal(DefaultConfig())
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to render default config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.WrapCLIError(model.ExitConfigError, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}
