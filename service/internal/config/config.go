// Package config loads the critic service configuration: a YAML document
// validated against an embedded JSON schema, with .env and environment
// overrides applied on top.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/agent"
	"github.com/phillipinseoul/Cluster-MAAC/engine/cluster"
	"github.com/phillipinseoul/Cluster-MAAC/engine/critic"
)

//go:embed config.schema.json
var schemaText string

// Environment variables that override file values.
const (
	EnvLogLevel   = "CMAAC_LOG_LEVEL"
	EnvMetricsDB  = "CMAAC_METRICS_DB"
	EnvCheckpoint = "CMAAC_CHECKPOINT"
	EnvSeed       = "CMAAC_SEED"
)

// Config is the full service configuration.
type Config struct {
	Critic      CriticConfig      `yaml:"critic" json:"critic"`
	Clustering  ClusteringConfig  `yaml:"clustering" json:"clustering"`
	Observation ObservationConfig `yaml:"observation" json:"observation"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint" json:"checkpoint"`
}

// CriticConfig shapes the attention critic.
type CriticConfig struct {
	HiddenDim   int             `yaml:"hidden_dim" json:"hidden_dim"`
	AttendHeads int             `yaml:"attend_heads" json:"attend_heads"`
	NormIn      bool            `yaml:"norm_in" json:"norm_in"`
	Ratio       float64         `yaml:"ratio" json:"ratio"` // cluster logit weight
	SASizes     []engine.SASize `yaml:"sa_sizes" json:"sa_sizes"`
}

// ClusteringConfig controls how agents are grouped.
type ClusteringConfig struct {
	AdversaryGroupSize int    `yaml:"adversary_group_size" json:"adversary_group_size"`
	GoodGroupSize      int    `yaml:"good_group_size" json:"good_group_size"`
	GroupSize          int    `yaml:"group_size" json:"group_size"` // homogeneous settings
	NInit              int    `yaml:"n_init" json:"n_init"`
	MaxIter            int    `yaml:"max_iter" json:"max_iter"`
	Seed               uint64 `yaml:"seed" json:"seed"`
	ReclusterEvery     int    `yaml:"recluster_every" json:"recluster_every"` // 0 = only on reset
}

// ObservationConfig describes the environment's observation rows.
type ObservationConfig struct {
	PositionOffset int `yaml:"position_offset" json:"position_offset"`
	Adversaries    int `yaml:"adversaries" json:"adversaries"` // 0 = homogeneous
}

// MetricsConfig configures the diagnostics sinks.
type MetricsConfig struct {
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"` // empty disables the store
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// CheckpointConfig locates the parameter checkpoint.
type CheckpointConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Default returns the settings used for keys the file leaves out.
func Default() Config {
	return Config{
		Critic: CriticConfig{HiddenDim: 32, AttendHeads: 1, NormIn: true, Ratio: critic.DefaultRatio},
		Clustering: ClusteringConfig{
			AdversaryGroupSize: 2,
			GoodGroupSize:      2,
			GroupSize:          2,
			NInit:              cluster.DefaultNInit,
			MaxIter:            cluster.DefaultMaxIter,
			Seed:               cluster.DefaultSeed,
		},
		Observation: ObservationConfig{PositionOffset: agent.DefaultPositionOffset},
		Metrics:     MetricsConfig{LogLevel: "info"},
	}
}

// Load reads the YAML file at path, validates it, and applies overrides from
// the given .env files (missing files are skipped) and the process
// environment, which wins.
func Load(path string, envFiles ...string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	env, err := readEnv(envFiles)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes and schema-checks a YAML document over Default().
func Parse(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validateSchema(doc); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	return cfg, nil
}

func validateSchema(doc any) error {
	schema, err := jsonschema.CompileString("config.schema.json", schemaText)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	// Round-trip through JSON so numbers take the types the validator expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config to json: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("config to json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return engine.ConfigErrorf("config schema: %v", err)
	}
	return nil
}

func readEnv(files []string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	for _, k := range []string{EnvLogLevel, EnvMetricsDB, EnvCheckpoint, EnvSeed} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overrides fields from env.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvLogLevel]; ok && v != "" {
		c.Metrics.LogLevel = v
	}
	if v, ok := env[EnvMetricsDB]; ok {
		c.Metrics.SQLitePath = v
	}
	if v, ok := env[EnvCheckpoint]; ok && v != "" {
		c.Checkpoint.Path = v
	}
	if v, ok := env[EnvSeed]; ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return engine.ConfigErrorf("%s=%q: %v", EnvSeed, v, err)
		}
		c.Clustering.Seed = seed
	}
	return nil
}

// Validate runs the semantic checks the schema cannot express.
func (c Config) Validate() error {
	if err := c.CriticConfig().Validate(); err != nil {
		return err
	}
	if c.Critic.Ratio < 0 || c.Critic.Ratio > 1 {
		return engine.ConfigErrorf("critic ratio %v outside [0, 1]", c.Critic.Ratio)
	}
	if c.Observation.Adversaries > len(c.Critic.SASizes) {
		return engine.ConfigErrorf("%d adversaries among %d agents", c.Observation.Adversaries, len(c.Critic.SASizes))
	}
	for i, sa := range c.Critic.SASizes {
		if c.Observation.PositionOffset+1 >= sa.State {
			return engine.ConfigErrorf("position offset %d does not fit agent %d state width %d", c.Observation.PositionOffset, i, sa.State)
		}
	}
	if _, err := logrus.ParseLevel(c.Metrics.LogLevel); err != nil {
		return engine.ConfigErrorf("log level: %v", err)
	}
	return nil
}

// CriticConfig returns the critic shape.
func (c Config) CriticConfig() critic.Config {
	return critic.Config{
		SASizes:     c.Critic.SASizes,
		HiddenDim:   c.Critic.HiddenDim,
		AttendHeads: c.Critic.AttendHeads,
		NormIn:      c.Critic.NormIn,
	}
}

// GroupSizes returns the per-role cluster sizes.
func (c Config) GroupSizes() cluster.GroupSizes {
	return cluster.GroupSizes{
		Adversary:   c.Clustering.AdversaryGroupSize,
		Good:        c.Clustering.GoodGroupSize,
		Homogeneous: c.Clustering.GroupSize,
	}
}

// ClusterOptions returns the k-means settings.
func (c Config) ClusterOptions() []cluster.Option {
	return []cluster.Option{
		cluster.WithSeed(c.Clustering.Seed),
		cluster.WithNInit(c.Clustering.NInit),
		cluster.WithMaxIter(c.Clustering.MaxIter),
	}
}

// Layout returns the observation layout.
func (c Config) Layout() agent.Layout {
	return agent.Layout{PositionOffset: c.Observation.PositionOffset}
}

// Roles returns the role table for the configured agents.
func (c Config) Roles() ([]engine.Role, error) {
	return agent.Roles(len(c.Critic.SASizes), c.Observation.Adversaries)
}

// LogLevel returns the parsed logrus level.
func (c Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Metrics.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
