package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/rdspiral/internal/compute"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

const (
	DefaultName      = "spiral"
	DefaultOutputDir = "rd_outputs"
	DefaultRTol      = 1e-6
	DefaultATol      = 1e-9
	DefaultArms      = 1
)

type Config struct {
	Name string `yaml:"name"`

	D1   float64 `yaml:"d1"`
	D2   float64 `yaml:"d2"`
	Beta float64 `yaml:"beta"`
	L    float64 `yaml:"L"`
	N    int     `yaml:"n"`

	TStart float64 `yaml:"t_start"`
	TEnd   float64 `yaml:"t_end"`
	Dt     float64 `yaml:"dt"`
	RTol   float64 `yaml:"rtol"`
	ATol   float64 `yaml:"atol"`

	SpiralArms       int              `yaml:"num_spiral_arms"`
	EquilibriumCheck bool             `yaml:"equilibrium_check"`
	Checkpoint       CheckpointConfig `yaml:"checkpoint"`

	Monitor      MonitorConfig      `yaml:"monitor"`
	Integrator   IntegratorConfig   `yaml:"integrator"`
	Perturbation PerturbationConfig `yaml:"perturbation"`

	FFTBackend             string `yaml:"fft_backend"`
	Workers                int    `yaml:"workers"`
	StopOnVerdict          bool   `yaml:"stop_on_verdict"`
	StopOnPersistenceError bool   `yaml:"stop_on_persistence_error"`
	OutputDir              string `yaml:"output_dir"`
	SaveFields             bool   `yaml:"save_fields"`
}

type CheckpointConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Interval float64 `yaml:"interval"`
}

type MonitorConfig struct {
	Window         int     `yaml:"window"`
	VariabilityTol float64 `yaml:"variability_tol"`
	DecayThreshold float64 `yaml:"decay_threshold"`
	MagnitudeFloor float64 `yaml:"magnitude_floor"`
	GrowthBound    float64 `yaml:"growth_bound"`
	MaxAbs         float64 `yaml:"max_abs"`
}

type IntegratorConfig struct {
	Safety    float64 `yaml:"safety"`
	MinFactor float64 `yaml:"min_factor"`
	MaxFactor float64 `yaml:"max_factor"`
	FirstStep float64 `yaml:"first_step"`
	MaxStep   float64 `yaml:"max_step"`
}

type PerturbationConfig struct {
	Amplitude float64 `yaml:"amplitude"`
	Seed      int64   `yaml:"seed"`
	Scale     float64 `yaml:"scale"`
}

func DefaultConfig() *Config {
	p := dynamo.DefaultParams()
	return &Config{
		Name: DefaultName,
		D1:   p.D1, D2: p.D2, Beta: p.Beta,
		L: p.L, N: p.N,
		TStart: p.TStart, TEnd: p.TEnd, Dt: p.Dt,
		RTol: DefaultRTol, ATol: DefaultATol,
		SpiralArms:       DefaultArms,
		EquilibriumCheck: true,
		Monitor: MonitorConfig{
			Window:         p.Monitor.Window,
			VariabilityTol: p.Monitor.VariabilityTol,
			DecayThreshold: p.Monitor.DecayThreshold,
			MagnitudeFloor: p.Monitor.MagnitudeFloor,
			GrowthBound:    p.Monitor.GrowthBound,
			MaxAbs:         p.Monitor.MaxAbs,
		},
		Integrator: IntegratorConfig{
			Safety:    p.Step.Safety,
			MinFactor: p.Step.MinFactor,
			MaxFactor: p.Step.MaxFactor,
		},
		Perturbation: PerturbationConfig{Scale: 4},
		FFTBackend:   compute.BackendGonum,
		OutputDir:    DefaultOutputDir,
		SaveFields:   true,
	}
}

// RequiredKeys must appear in every configuration file.
var RequiredKeys = []string{"d1", "d2", "beta", "L", "n", "t_start", "t_end", "dt"}

// Load reads a configuration file over the defaults. Files ending in
// .yaml or .yml are YAML; anything else uses the key = value format.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = Parse(f)
	default:
		cfg, err = ParseKeyValue(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}

	var present map[string]yaml.Node
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	var missing []error
	for _, key := range RequiredKeys {
		if _, ok := present[key]; !ok {
			missing = append(missing, &dynamo.ConfigError{Field: key, Value: nil, Reason: "required key is missing"})
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// keyAliases maps keys of the key = value format onto their YAML names.
var keyAliases = map[string]string{"save_netcdf": "save_fields"}

var boolKeys = map[string]bool{
	"save_fields": true, "equilibrium_check": true, "stop_on_verdict": true,
	"stop_on_persistence_error": true, "checkpoint.enabled": true,
}

// ParseKeyValue reads the line-oriented format
//
//	# comment
//	d1 = 0.1   # inline comment
//	checkpoint.interval = 50
//
// Dotted keys address the nested sections. Booleans accept true, 1, yes
// and on. The only integration method is RK45.
func ParseKeyValue(r io.Reader) (*Config, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text, _, _ := strings.Cut(sc.Text(), "#")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key = value, got %q", dynamo.ErrConfiguration, line, text)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if alias, ok := keyAliases[key]; ok {
			key = alias
		}
		if key == "method" {
			if !strings.EqualFold(value, "RK45") {
				return nil, &dynamo.ConfigError{Field: "method", Value: value, Reason: "only RK45 is supported"}
			}
			continue
		}

		scalar := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
		if boolKeys[key] {
			truthy := slices.Contains([]string{"true", "1", "yes", "on"}, strings.ToLower(value))
			scalar.Tag, scalar.Value = "!!bool", fmt.Sprint(truthy)
		}
		setPath(doc, strings.Split(key, "."), scalar)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(data))
}

// setPath stores v under the dotted path, creating section mappings as
// needed. A repeated key replaces the earlier value.
func setPath(m *yaml.Node, path []string, v *yaml.Node) {
	for i := 0; i < len(m.Content); i += 2 {
		if m.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			m.Content[i+1] = v
			return
		}
		if m.Content[i+1].Kind != yaml.MappingNode {
			m.Content[i+1] = &yaml.Node{Kind: yaml.MappingNode}
		}
		setPath(m.Content[i+1], path[1:], v)
		return
	}
	child := v
	if len(path) > 1 {
		child = &yaml.Node{Kind: yaml.MappingNode}
		setPath(child, path[1:], v)
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: path[0]}, child)
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Params converts the file-level configuration into the immutable run
// parameters.
func (c *Config) Params() dynamo.Params {
	return dynamo.Params{
		D1: c.D1, D2: c.D2, Beta: c.Beta,
		L: c.L, N: c.N,
		TStart: c.TStart, TEnd: c.TEnd, Dt: c.Dt,
		RTol: c.RTol, ATol: c.ATol,
		SpiralArms:       c.SpiralArms,
		EquilibriumCheck: c.EquilibriumCheck,
		Checkpoint: dynamo.CheckpointParams{
			Enabled:  c.Checkpoint.Enabled,
			Interval: c.Checkpoint.Interval,
		},
		Step: dynamo.StepParams{
			Safety:    c.Integrator.Safety,
			MinFactor: c.Integrator.MinFactor,
			MaxFactor: c.Integrator.MaxFactor,
			FirstStep: c.Integrator.FirstStep,
			MaxStep:   c.Integrator.MaxStep,
		},
		Monitor: dynamo.MonitorParams{
			Window:         c.Monitor.Window,
			VariabilityTol: c.Monitor.VariabilityTol,
			DecayThreshold: c.Monitor.DecayThreshold,
			MagnitudeFloor: c.Monitor.MagnitudeFloor,
			GrowthBound:    c.Monitor.GrowthBound,
			MaxAbs:         c.Monitor.MaxAbs,
		},
		Perturbation: dynamo.PerturbParams{
			Amplitude: c.Perturbation.Amplitude,
			Seed:      c.Perturbation.Seed,
			Scale:     c.Perturbation.Scale,
		},
		Backend: c.FFTBackend,
		Workers: c.Workers,
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return &dynamo.ConfigError{Field: "name", Value: c.Name, Reason: "must not be empty"}
	}
	if c.OutputDir == "" {
		return &dynamo.ConfigError{Field: "output_dir", Value: c.OutputDir, Reason: "must not be empty"}
	}
	if c.FFTBackend != "" && !slices.Contains(compute.Names(), c.FFTBackend) {
		return &dynamo.ConfigError{Field: "fft_backend", Value: c.FFTBackend, Reason: fmt.Sprintf("must be one of %v", compute.Names())}
	}
	if c.Workers < 0 {
		return &dynamo.ConfigError{Field: "workers", Value: c.Workers, Reason: "must be non-negative"}
	}
	return c.Params().Validate()
}

// Clone returns a deep copy; Config holds no references.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
