// Package scenario loads and resolves simulation scenarios.
//
// A scenario file is YAML. Loading validates the document against the
// embedded JSON schema, applies defaults, and computes a stable content hash
// over the canonical JSON form so that two byte-different files with the same
// resolved content hash identically.
package scenario

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/simerr"
)

// Hot edge modes for the temperature gradient.
const (
	HotNorth   = "north"
	HotSouth   = "south"
	HotEquator = "equator"
)

// Kernel pass names accepted by dynamics.passes.
var KnownPasses = []string{"diffusion", "advection", "coupling", "decay", "replenish", "derived"}

type Config struct {
	World      World       `yaml:"world" json:"world"`
	Randomness Randomness  `yaml:"randomness" json:"randomness"`
	Fields     []field.Def `yaml:"fields" json:"fields"`
	Water      Water       `yaml:"water_profile" json:"water_profile"`
	Heat       Heat        `yaml:"heat_profile" json:"heat_profile"`
	Vegetation Vegetation  `yaml:"vegetation_profile" json:"vegetation_profile"`
	Dynamics   Dynamics    `yaml:"dynamics" json:"dynamics"`
	Outputs    Outputs     `yaml:"outputs" json:"outputs"`

	// Hash is the stable content hash of the resolved scenario document.
	// Computed on load, never read from the file.
	Hash string `yaml:"-" json:"-"`

	// Raw is the source document as given, kept so run artifacts can carry
	// an exact copy of the scenario that produced them.
	Raw []byte `yaml:"-" json:"-"`
}

type World struct {
	Width  int  `yaml:"width" json:"width"`
	Height int  `yaml:"height" json:"height"`
	Wrap   Wrap `yaml:"wrap" json:"wrap"`
}

type Wrap struct {
	X *bool `yaml:"x" json:"x"`
	Y *bool `yaml:"y" json:"y"`
}

// WrapX reports whether the grid wraps horizontally (default true).
func (w World) WrapX() bool { return w.Wrap.X == nil || *w.Wrap.X }

// WrapY reports whether the grid wraps vertically (default true).
func (w World) WrapY() bool { return w.Wrap.Y == nil || *w.Wrap.Y }

type Randomness struct {
	Seed int64 `yaml:"seed" json:"seed"`
}

type Water struct {
	Octaves            int     `yaml:"octaves" json:"octaves"`
	ElevationScale     float32 `yaml:"elevation_scale" json:"elevation_scale"`
	RidgeStrength      float32 `yaml:"ridge_strength" json:"ridge_strength"`
	PrecipitationScale float32 `yaml:"precipitation_scale" json:"precipitation_scale"`
	RiverPercentile    float32 `yaml:"river_percentile" json:"river_percentile"`
	LakeFillThreshold  float32 `yaml:"lake_fill_threshold" json:"lake_fill_threshold"`
	BaseMoisture       float32 `yaml:"base_moisture" json:"base_moisture"`
	RiverDepth         float32 `yaml:"river_depth" json:"river_depth"`
	LakeDepth          float32 `yaml:"lake_depth" json:"lake_depth"`
	Evaporation        float32 `yaml:"evaporation" json:"evaporation"`
}

type Heat struct {
	HotEdge   string  `yaml:"hot_edge" json:"hot_edge"`
	Amplitude float32 `yaml:"amplitude" json:"amplitude"`
	NoiseAmp  float32 `yaml:"noise_amp" json:"noise_amp"`
}

type Vegetation struct {
	GrowthRate       float32 `yaml:"k" json:"k"`
	WaterHalf        float32 `yaml:"water_half" json:"water_half"`
	HeatOptimum      float32 `yaml:"heat_optimum" json:"heat_optimum"`
	HeatSigma        float32 `yaml:"heat_sigma" json:"heat_sigma"`
	CarryingCapacity float32 `yaml:"carrying_capacity" json:"carrying_capacity"`
}

type Dynamics struct {
	Passes   []string `yaml:"passes" json:"passes"`
	Boundary string   `yaml:"boundary" json:"boundary"`
}

type Outputs struct {
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`
	MetricsCadence  int `yaml:"metrics_cadence" json:"metrics_cadence"`
}

// Load reads, validates, and resolves a scenario file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read scenario: %v", simerr.ErrConfig, err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and resolves a scenario document.
func Parse(b []byte) (*Config, error) {
	// Round-trip through JSON so schema validation and hashing see the same
	// canonical document shape regardless of YAML quirks.
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: scenario yaml: %v", simerr.ErrConfig, err)
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: scenario canonicalize: %v", simerr.ErrConfig, err)
	}
	var jdoc any
	if err := json.Unmarshal(canon, &jdoc); err != nil {
		return nil, fmt.Errorf("%w: scenario canonicalize: %v", simerr.ErrConfig, err)
	}
	if err := validateSchema(jdoc); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: scenario decode: %v", simerr.ErrConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Hash = StableHash(jdoc)
	cfg.Raw = append([]byte(nil), b...)
	return &cfg, nil
}

// StableHash hashes the canonical JSON form of a document. encoding/json
// sorts map keys, so the hash is independent of key order in the source.
func StableHash(doc any) string {
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

func (c *Config) applyDefaults() {
	if c.Water.Octaves <= 0 {
		c.Water.Octaves = 4
	}
	if c.Water.ElevationScale <= 0 {
		c.Water.ElevationScale = 96
	}
	if c.Water.RidgeStrength == 0 {
		c.Water.RidgeStrength = 0.4
	}
	if c.Water.PrecipitationScale <= 0 {
		c.Water.PrecipitationScale = 128
	}
	if c.Water.RiverPercentile == 0 {
		c.Water.RiverPercentile = 0.88
	}
	if c.Water.LakeFillThreshold == 0 {
		c.Water.LakeFillThreshold = 0.2
	}
	if c.Water.BaseMoisture == 0 {
		c.Water.BaseMoisture = 0.3
	}
	if c.Water.RiverDepth == 0 {
		c.Water.RiverDepth = 0.9
	}
	if c.Water.LakeDepth == 0 {
		c.Water.LakeDepth = 1.0
	}
	if c.Water.Evaporation == 0 {
		c.Water.Evaporation = 0.005
	}
	if c.Heat.HotEdge == "" {
		c.Heat.HotEdge = HotEquator
	}
	if c.Heat.Amplitude == 0 {
		c.Heat.Amplitude = 0.7
	}
	if c.Vegetation.GrowthRate == 0 {
		c.Vegetation.GrowthRate = 0.08
	}
	if c.Vegetation.WaterHalf == 0 {
		c.Vegetation.WaterHalf = 0.35
	}
	if c.Vegetation.HeatOptimum == 0 {
		c.Vegetation.HeatOptimum = 0.65
	}
	if c.Vegetation.HeatSigma == 0 {
		c.Vegetation.HeatSigma = 0.18
	}
	if c.Vegetation.CarryingCapacity == 0 {
		c.Vegetation.CarryingCapacity = 1.0
	}
	if len(c.Dynamics.Passes) == 0 {
		c.Dynamics.Passes = append([]string(nil), KnownPasses...)
	}
	if c.Dynamics.Boundary == "" {
		if c.World.WrapX() || c.World.WrapY() {
			c.Dynamics.Boundary = "wrap"
		} else {
			c.Dynamics.Boundary = "clamp"
		}
	}
	if c.Outputs.CheckpointEvery <= 0 {
		c.Outputs.CheckpointEvery = 100
	}
	if c.Outputs.MetricsCadence <= 0 {
		c.Outputs.MetricsCadence = 1
	}
}

// Validate checks the resolved configuration. Field-level checks live in
// field.Build; this covers the world and the generation profiles.
func (c *Config) Validate() error {
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("%w: world dimensions %dx%d", simerr.ErrConfig, c.World.Width, c.World.Height)
	}
	if c.World.Width > 1<<15 || c.World.Height > 1<<15 {
		return fmt.Errorf("%w: world dimensions %dx%d exceed delta coordinate range", simerr.ErrConfig, c.World.Width, c.World.Height)
	}
	switch c.Heat.HotEdge {
	case HotNorth, HotSouth, HotEquator:
	default:
		return fmt.Errorf("%w: heat_profile.hot_edge %q", simerr.ErrConfig, c.Heat.HotEdge)
	}
	if c.Heat.Amplitude <= 0 || c.Heat.Amplitude > 1 {
		return fmt.Errorf("%w: heat_profile.amplitude %v outside (0, 1]", simerr.ErrConfig, c.Heat.Amplitude)
	}
	if c.Heat.NoiseAmp < 0 {
		return fmt.Errorf("%w: heat_profile.noise_amp %v is negative", simerr.ErrConfig, c.Heat.NoiseAmp)
	}
	if c.Vegetation.HeatSigma <= 0 {
		return fmt.Errorf("%w: vegetation_profile.heat_sigma %v must be positive", simerr.ErrConfig, c.Vegetation.HeatSigma)
	}
	if c.Vegetation.WaterHalf <= 0 {
		return fmt.Errorf("%w: vegetation_profile.water_half %v must be positive", simerr.ErrConfig, c.Vegetation.WaterHalf)
	}
	if c.Vegetation.GrowthRate < 0 {
		return fmt.Errorf("%w: vegetation_profile.k %v is negative", simerr.ErrConfig, c.Vegetation.GrowthRate)
	}
	if c.Water.RiverPercentile <= 0 || c.Water.RiverPercentile >= 1 {
		return fmt.Errorf("%w: water_profile.river_percentile %v outside (0, 1)", simerr.ErrConfig, c.Water.RiverPercentile)
	}
	if c.Water.LakeFillThreshold <= 0 || c.Water.LakeFillThreshold >= 1 {
		return fmt.Errorf("%w: water_profile.lake_fill_threshold %v outside (0, 1)", simerr.ErrConfig, c.Water.LakeFillThreshold)
	}
	if c.Water.Evaporation < 0 {
		return fmt.Errorf("%w: water_profile.evaporation %v is negative", simerr.ErrConfig, c.Water.Evaporation)
	}
	switch c.Dynamics.Boundary {
	case "wrap", "clamp":
	default:
		return fmt.Errorf("%w: dynamics.boundary %q", simerr.ErrConfig, c.Dynamics.Boundary)
	}
	seen := map[string]bool{}
	for _, p := range c.Dynamics.Passes {
		ok := false
		for _, k := range KnownPasses {
			if p == k {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: unknown kernel pass %q", simerr.ErrConfig, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: kernel pass %q listed twice", simerr.ErrConfig, p)
		}
		seen[p] = true
	}
	return nil
}
