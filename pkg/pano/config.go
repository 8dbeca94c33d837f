package pano

import (
	"runtime"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable of the pipeline. It is passed by value
// into Stitch and never modified after that.
type Config struct {
	Verbosity int
	DebugDir  string // if set (and Verbosity>0), seam masks get dumped here as PNGs
	Workers   int    // size of the worker pools; 0 means runtime.NumCPU()
	Seed      int64  // RANSAC seeds derive from this

	WaveCorrection       bool
	ExposureCompensation bool
	Blender              string // "multiband", "feather"
	Projection           string // "spherical", "cylindrical", "planar"
	DisconnectedPolicy   string // "largest", "fail"

	WorkMegapix     float64 // registration happens at this resolution
	MaxKeypoints    int
	HarrisK         float64
	MatchRatio      float64 // Lowe ratio for the nearest neighbour test
	RansacThreshold float64 // pixels, at work scale
	RansacIters     int
	MinInliers      int
	MinInlierRatio  float64

	RefineMaxIters     int
	RefineTolerance    float64
	RefineMaxIncreases int // consecutive rejected steps before we call it diverged

	FeatherWidth float64 // pixels either side of the seam
	BlendBands   int

	// Not part of the YAML; if nil, each Stitch call makes its own.
	Logger *logrus.Logger `yaml:"-"`
}

func NewConfig() Config {
	return Config{
		Seed: 1,

		WaveCorrection:       true,
		ExposureCompensation: true,
		Blender:              "multiband",
		Projection:           "spherical",
		DisconnectedPolicy:   "largest",

		WorkMegapix:     0.6,
		MaxKeypoints:    500,
		HarrisK:         0.04,
		MatchRatio:      0.8,
		RansacThreshold: 3.0,
		RansacIters:     500,
		MinInliers:      6,
		MinInlierRatio:  0.3,

		RefineMaxIters:     100,
		RefineTolerance:    1e-7,
		RefineMaxIncreases: 10,

		FeatherWidth: 50,
		BlendBands:   5,
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

// NewConfigFromYaml loads a config, starting from the defaults, and validates it.
func NewConfigFromYaml(b []byte) (Config, error) {
	c, err := newConfigFromYaml(b)
	if err != nil {
		return c, errors.Wrap(err, "config yaml")
	}
	return c, c.Validate()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		// Only plain fields in here, so this can't really happen
		return ""
	}
	return string(b)
}

func (c Config) Validate() error {
	if _, err := c.GetBlender(); err != nil {
		return err
	}
	if _, err := c.GetProjector(); err != nil {
		return err
	}
	switch c.DisconnectedPolicy {
	case "largest", "fail":
	default:
		return newError(InvalidInput, nil, "no DisconnectedPolicy named '%s'", c.DisconnectedPolicy)
	}
	if c.MinInliers < 4 {
		return newError(InvalidInput, nil, "MinInliers must be at least 4, not %d", c.MinInliers)
	}
	if c.MaxKeypoints <= 0 || c.RansacIters <= 0 || c.RansacThreshold <= 0 {
		return newError(InvalidInput, nil, "keypoint & RANSAC limits must be positive")
	}
	return nil
}

func (c Config) GetBlender() (Blender, error) {
	switch c.Blender {
	case "multiband":
		return MultiBandBlender{Bands: c.BlendBands}, nil
	case "feather":
		return FeatherBlender{Width: c.FeatherWidth}, nil
	default:
		return nil, newError(InvalidInput, nil, "no Blender strategy named '%s'", c.Blender)
	}
}

func (c Config) GetProjector() (Projector, error) {
	switch c.Projection {
	case "spherical":
		return SphericalProjector{}, nil
	case "cylindrical":
		return CylindricalProjector{}, nil
	case "planar":
		return PlanarProjector{}, nil
	default:
		return nil, newError(InvalidInput, nil, "no Projection named '%s'", c.Projection)
	}
}

func (c Config) numWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// newRunLogger returns the logger for a single Stitch call, tagged with
// a fresh run id.
func (c Config) newRunLogger() *logrus.Entry {
	l := c.Logger
	if l == nil {
		l = logrus.New()
		l.SetLevel(logrus.InfoLevel)
		if c.Verbosity > 0 {
			l.SetLevel(logrus.DebugLevel)
		}
	}
	return l.WithField("run", uuid.New().String())
}
