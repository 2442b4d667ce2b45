// Package config loads and validates the engine configuration from YAML
// files and COMFYFLEET_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yzhou-ml/comfyfleet/pkg/planner"
)

// RoleConfig declares one input slot of the workflow payload.
type RoleConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Path     string `mapstructure:"path" yaml:"path"`
	Main     bool   `mapstructure:"is_main" yaml:"is_main"`
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
}

// RedisConfig points at the status store. Leaving Addr empty selects the
// in-memory store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// PollConfig bounds result polling per job.
type PollConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// QuotaConfig bounds generations per main-image group.
type QuotaConfig struct {
	Target      int `mapstructure:"target" yaml:"target"`
	MinPerImage int `mapstructure:"min_per_image" yaml:"min_per_image"`
	MaxPerImage int `mapstructure:"max_per_image" yaml:"max_per_image"`
}

// WorkflowConfig locates the payload template and its node bindings.
type WorkflowConfig struct {
	TemplatePath   string `mapstructure:"template" yaml:"template"`
	NodeConfigPath string `mapstructure:"node_config" yaml:"node_config"`
}

// RetrieverConfig drives the input scan.
type RetrieverConfig struct {
	TargetFolders  []string `mapstructure:"target_folders" yaml:"target_folders"`
	FolderKeywords []string `mapstructure:"folder_keywords" yaml:"folder_keywords"`
	Extensions     []string `mapstructure:"extensions" yaml:"extensions"`
}

// APIConfig configures the status HTTP server. An empty key disables
// authentication.
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Key    string `mapstructure:"key" yaml:"key,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// Config is the full engine configuration.
type Config struct {
	Servers         []string        `mapstructure:"servers" yaml:"servers"`
	Redis           RedisConfig     `mapstructure:"redis" yaml:"redis"`
	OutputRoot      string          `mapstructure:"output_root" yaml:"output_root"`
	BatchSize       int             `mapstructure:"batch_size" yaml:"batch_size"`
	ResizeShortEdge int             `mapstructure:"resize_short_edge" yaml:"resize_short_edge"`
	Poll            PollConfig      `mapstructure:"poll" yaml:"poll"`
	Quota           QuotaConfig     `mapstructure:"quota" yaml:"quota"`
	Roles           []RoleConfig    `mapstructure:"roles" yaml:"roles"`
	Workflow        WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
	Retriever       RetrieverConfig `mapstructure:"retriever" yaml:"retriever"`
	API             APIConfig       `mapstructure:"api" yaml:"api"`
	Log             LogConfig       `mapstructure:"log" yaml:"log"`
}

// Load reads the config file at path, applies defaults and COMFYFLEET_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("output_root", "outputs")
	v.SetDefault("batch_size", 0)
	v.SetDefault("resize_short_edge", 1536)
	v.SetDefault("poll.max_retries", 60)
	v.SetDefault("poll.retry_delay", 5*time.Second)
	v.SetDefault("quota.min_per_image", 1)
	v.SetDefault("retriever.extensions", []string{".png", ".jpg", ".jpeg", ".webp"})
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("COMFYFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants a run depends on.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server required")
	}
	for _, s := range c.Servers {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return fmt.Errorf("config: server %q must be an http(s) URL", s)
		}
	}

	mains := 0
	for _, r := range c.Roles {
		if r.Name == "" {
			return fmt.Errorf("config: role with empty name")
		}
		if r.Main {
			mains++
		}
	}
	if mains != 1 {
		return fmt.Errorf("config: exactly one role must set is_main, found %d", mains)
	}

	if c.Quota.Target < 0 || c.Quota.MinPerImage < 0 || c.Quota.MaxPerImage < c.Quota.MinPerImage {
		return fmt.Errorf("config: invalid quota target=%d min=%d max=%d",
			c.Quota.Target, c.Quota.MinPerImage, c.Quota.MaxPerImage)
	}
	if c.Poll.MaxRetries < 1 {
		return fmt.Errorf("config: poll.max_retries must be at least 1")
	}
	if c.Workflow.TemplatePath == "" {
		return fmt.Errorf("config: workflow.template is required")
	}
	return nil
}

// PlannerRoles converts the declared roles for the planner.
func (c *Config) PlannerRoles() []planner.Role {
	roles := make([]planner.Role, len(c.Roles))
	for i, r := range c.Roles {
		path := r.Path
		if path == "" {
			path = r.Name
		}
		roles[i] = planner.Role{
			Name:     r.Name,
			Path:     path,
			Main:     r.Main,
			Strategy: planner.ParseStrategy(r.Strategy),
		}
	}
	return roles
}

// PlannerQuota converts the quota block for the planner.
func (c *Config) PlannerQuota() planner.Quota {
	return planner.Quota{
		Target:      c.Quota.Target,
		MinPerImage: c.Quota.MinPerImage,
		MaxPerImage: c.Quota.MaxPerImage,
	}
}

// ExtensionSet returns the retriever extensions as a lookup set.
func (c *Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.Retriever.Extensions))
	for _, ext := range c.Retriever.Extensions {
		set[strings.ToLower(ext)] = true
	}
	return set
}

// WriteSample writes a commented starter configuration to path.
func WriteSample(path string) error {
	sample := Config{
		Servers:         []string{"http://127.0.0.1:8188", "http://127.0.0.1:8189"},
		Redis:           RedisConfig{Addr: "localhost:6379"},
		OutputRoot:      "outputs",
		BatchSize:       0,
		ResizeShortEdge: 1536,
		Poll:            PollConfig{MaxRetries: 60, RetryDelay: 5 * time.Second},
		Quota:           QuotaConfig{Target: 10, MinPerImage: 1, MaxPerImage: 5},
		Roles: []RoleConfig{
			{Name: "person", Path: "person", Main: true},
			{Name: "garment", Path: "garment", Strategy: "sequential"},
			{Name: "background", Path: "background", Strategy: "random_folder"},
		},
		Workflow: WorkflowConfig{
			TemplatePath:   "workflow.json",
			NodeConfigPath: "nodes.json",
		},
		Retriever: RetrieverConfig{
			TargetFolders:  []string{"./library"},
			FolderKeywords: nil,
			Extensions:     []string{".png", ".jpg", ".jpeg", ".webp"},
		},
		API: APIConfig{Listen: ":8080"},
		Log: LogConfig{Level: "info"},
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&sample); err != nil {
		return fmt.Errorf("encode sample config: %w", err)
	}
	return enc.Close()
}
