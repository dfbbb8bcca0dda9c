// Package config loads the imaging configuration for a cube run.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/aurora.cubes/internal/security"
)

// DefaultConfigPath is the path to the canonical cube defaults file.
const DefaultConfigPath = "config/cube.defaults.json"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Weighting schemes accepted by the CLEAN task.
const (
	WeightingNatural = "natural"
	WeightingUniform = "uniform"
	WeightingBriggs  = "briggs"
)

// CubeConfig holds the settings for one imaging run. Fields are pointers so
// a partial JSON file only overrides what it names; the Get* methods supply
// the defaults for everything else.
type CubeConfig struct {
	// Imaging choices
	VelocityResolution *float64 `json:"velocity_resolution_kms,omitempty"` // channel width in km/s
	Weighting          *string  `json:"weighting,omitempty"`               // natural, uniform or briggs
	Robust             *float64 `json:"robust,omitempty"`                  // only used by briggs
	SigmaCut           *float64 `json:"sigma_cut,omitempty"`               // CLEAN threshold in units of RMS
	Taper              *bool    `json:"taper,omitempty"`
	PrimaryBeamCorr    *bool    `json:"primary_beam_correction,omitempty"`
	RunName            *string  `json:"run_name,omitempty"` // appended to every output name
	BlueEdge           *float64 `json:"blue_edge_kms,omitempty"`
	Symmetric          *bool    `json:"symmetric,omitempty"`
	ManualNChannels    *int     `json:"manual_nchannels,omitempty"`
	PixelCut           *float64 `json:"pixel_cut,omitempty"` // -1 includes all pixels
	IncludeMax         *float64 `json:"include_max,omitempty"`

	// Dataset constants
	RMSmJy     *float64 `json:"rms_mjy,omitempty"` // per-dataset RMS in mJy/beam
	Vis        *string  `json:"vis,omitempty"`
	Field      *string  `json:"field,omitempty"`
	SPW        *string  `json:"spw,omitempty"`
	OutFrame   *string  `json:"outframe,omitempty"`
	VelType    *string  `json:"veltype,omitempty"`
	RestFreq   *string  `json:"rest_freq,omitempty"`
	ImSize     []int    `json:"imsize,omitempty"`
	Cell       *string  `json:"cell,omitempty"`
	OuterTaper []string `json:"outer_taper,omitempty"`
	NIter      *int     `json:"niter,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCubeConfig returns a CubeConfig with all fields unset.
func EmptyCubeConfig() *CubeConfig {
	return &CubeConfig{}
}

// DefaultCubeConfig returns a CubeConfig with every field set to its
// default. It matches config/cube.defaults.json.
func DefaultCubeConfig() *CubeConfig {
	return EmptyCubeConfig().Resolved()
}

// LoadCubeConfig loads a CubeConfig from a JSON file.
// The file must have a .json extension, be under 1MB and name only known
// fields. Omitted fields fall back to defaults, so partial configs are safe.
func LoadCubeConfig(path string) (*CubeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCubeConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *CubeConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCubeConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// JSON returns the fully resolved configuration (defaults applied) as
// indented JSON, for the run ledger.
func (c *CubeConfig) JSON() ([]byte, error) {
	return json.MarshalIndent(c.Resolved(), "", "  ")
}

// Resolved returns a copy of c with every unset field filled from defaults.
func (c *CubeConfig) Resolved() *CubeConfig {
	return &CubeConfig{
		VelocityResolution: ptrFloat64(c.GetVelocityResolution()),
		Weighting:          ptrString(c.GetWeighting()),
		Robust:             ptrFloat64(c.GetRobust()),
		SigmaCut:           ptrFloat64(c.GetSigmaCut()),
		Taper:              ptrBool(c.GetTaper()),
		PrimaryBeamCorr:    ptrBool(c.GetPrimaryBeamCorr()),
		RunName:            ptrString(c.GetRunName()),
		BlueEdge:           ptrFloat64(c.GetBlueEdge()),
		Symmetric:          ptrBool(c.GetSymmetric()),
		ManualNChannels:    ptrInt(c.GetManualNChannels()),
		PixelCut:           ptrFloat64(c.GetPixelCut()),
		IncludeMax:         ptrFloat64(c.GetIncludeMax()),
		RMSmJy:             ptrFloat64(c.GetRMSmJy()),
		Vis:                ptrString(c.GetVis()),
		Field:              ptrString(c.GetField()),
		SPW:                ptrString(c.GetSPW()),
		OutFrame:           ptrString(c.GetOutFrame()),
		VelType:            ptrString(c.GetVelType()),
		RestFreq:           ptrString(c.GetRestFreq()),
		ImSize:             c.GetImSize(),
		Cell:               ptrString(c.GetCell()),
		OuterTaper:         c.GetOuterTaper(),
		NIter:              ptrInt(c.GetNIter()),
	}
}

// Validate checks that the configuration values are usable.
func (c *CubeConfig) Validate() error {
	if v := c.GetVelocityResolution(); v <= 0 {
		return fmt.Errorf("%w: velocity_resolution_kms must be positive, got %g", ErrInvalid, v)
	}

	switch w := c.GetWeighting(); w {
	case WeightingNatural, WeightingUniform, WeightingBriggs:
	default:
		return fmt.Errorf("%w: weighting must be natural, uniform or briggs, got %q", ErrInvalid, w)
	}

	if r := c.GetRobust(); r < -2 || r > 2 {
		return fmt.Errorf("%w: robust must be between -2 and 2, got %g", ErrInvalid, r)
	}
	if s := c.GetSigmaCut(); s < 0 {
		return fmt.Errorf("%w: sigma_cut must be non-negative, got %g", ErrInvalid, s)
	}
	if r := c.GetRMSmJy(); r <= 0 {
		return fmt.Errorf("%w: rms_mjy must be positive, got %g", ErrInvalid, r)
	}

	if n := c.GetManualNChannels(); n < 0 {
		return fmt.Errorf("%w: manual_nchannels must be non-negative, got %d", ErrInvalid, n)
	} else if !c.GetSymmetric() && n == 0 {
		return fmt.Errorf("%w: manual_nchannels must be set when symmetric is false", ErrInvalid)
	}

	if err := security.ValidateRunTag(c.GetRunName()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.ImSize != nil {
		if len(c.ImSize) != 2 || c.ImSize[0] <= 0 || c.ImSize[1] <= 0 {
			return fmt.Errorf("%w: imsize must be two positive integers, got %v", ErrInvalid, c.ImSize)
		}
	}
	if n := c.GetNIter(); n < 0 {
		return fmt.Errorf("%w: niter must be non-negative, got %d", ErrInvalid, n)
	}
	if c.GetPixelCut() >= c.GetIncludeMax() {
		return fmt.Errorf("%w: pixel_cut %g must be below include_max %g", ErrInvalid, c.GetPixelCut(), c.GetIncludeMax())
	}
	if c.GetVis() == "" {
		return fmt.Errorf("%w: vis must not be empty", ErrInvalid)
	}
	return nil
}

// GetVelocityResolution returns the channel width in km/s or the default.
func (c *CubeConfig) GetVelocityResolution() float64 {
	if c.VelocityResolution == nil {
		return 20
	}
	return *c.VelocityResolution
}

// GetWeighting returns the weighting scheme or the default.
func (c *CubeConfig) GetWeighting() string {
	if c.Weighting == nil {
		return WeightingBriggs
	}
	return *c.Weighting
}

// GetRobust returns the Briggs robust factor or the default.
// 0.0 favours angular resolution, 2.0 approaches natural weighting.
func (c *CubeConfig) GetRobust() float64 {
	if c.Robust == nil {
		return 0.0
	}
	return *c.Robust
}

// GetSigmaCut returns the CLEAN threshold in units of RMS or the default.
func (c *CubeConfig) GetSigmaCut() float64 {
	if c.SigmaCut == nil {
		return 3.0
	}
	return *c.SigmaCut
}

// GetTaper returns the uv-taper flag or the default.
func (c *CubeConfig) GetTaper() bool {
	if c.Taper == nil {
		return true
	}
	return *c.Taper
}

// GetPrimaryBeamCorr returns the primary beam correction flag or the default.
func (c *CubeConfig) GetPrimaryBeamCorr() bool {
	if c.PrimaryBeamCorr == nil {
		return true
	}
	return *c.PrimaryBeamCorr
}

// GetRunName returns the run tag or the default.
func (c *CubeConfig) GetRunName() string {
	if c.RunName == nil {
		return "20kms_cube"
	}
	return *c.RunName
}

// GetBlueEdge returns the start velocity in km/s or the default.
func (c *CubeConfig) GetBlueEdge() float64 {
	if c.BlueEdge == nil {
		return -500
	}
	return *c.BlueEdge
}

// GetSymmetric returns the symmetric channel flag or the default.
func (c *CubeConfig) GetSymmetric() bool {
	if c.Symmetric == nil {
		return true
	}
	return *c.Symmetric
}

// GetManualNChannels returns the manual channel count or the default.
func (c *CubeConfig) GetManualNChannels() int {
	if c.ManualNChannels == nil {
		return 0
	}
	return *c.ManualNChannels
}

// GetPixelCut returns the lower includepix bound for moments or the default.
func (c *CubeConfig) GetPixelCut() float64 {
	if c.PixelCut == nil {
		return -1
	}
	return *c.PixelCut
}

// GetIncludeMax returns the upper includepix bound for moments or the default.
func (c *CubeConfig) GetIncludeMax() float64 {
	if c.IncludeMax == nil {
		return 100
	}
	return *c.IncludeMax
}

// GetRMSmJy returns the dataset RMS in mJy/beam or the default
// (CO(2-1) at 50 km/s).
func (c *CubeConfig) GetRMSmJy() float64 {
	if c.RMSmJy == nil {
		return 0.2
	}
	return *c.RMSmJy
}

// GetVis returns the visibility dataset path or the default.
func (c *CubeConfig) GetVis() string {
	if c.Vis == nil {
		return "../calibrated/calibrated.ms.contsub"
	}
	return *c.Vis
}

// GetField returns the field selection or the default.
func (c *CubeConfig) GetField() string {
	if c.Field == nil {
		return "0"
	}
	return *c.Field
}

// GetSPW returns the spectral window selection or the default.
func (c *CubeConfig) GetSPW() string {
	if c.SPW == nil {
		return "0,3,6,9"
	}
	return *c.SPW
}

// GetOutFrame returns the spectral reference frame or the default.
func (c *CubeConfig) GetOutFrame() string {
	if c.OutFrame == nil {
		return "lsrk"
	}
	return *c.OutFrame
}

// GetVelType returns the velocity convention or the default.
func (c *CubeConfig) GetVelType() string {
	if c.VelType == nil {
		return "optical"
	}
	return *c.VelType
}

// GetRestFreq returns the line rest frequency or the default (CO 2-1).
func (c *CubeConfig) GetRestFreq() string {
	if c.RestFreq == nil {
		return "229.537GHz"
	}
	return *c.RestFreq
}

// GetImSize returns the image size in pixels or the default.
func (c *CubeConfig) GetImSize() []int {
	if len(c.ImSize) != 2 {
		return []int{250, 250}
	}
	return []int{c.ImSize[0], c.ImSize[1]}
}

// GetCell returns the pixel size or the default.
func (c *CubeConfig) GetCell() string {
	if c.Cell == nil {
		return "0.2arcsec"
	}
	return *c.Cell
}

// GetOuterTaper returns the taper size or the default. Only used when
// tapering is on.
func (c *CubeConfig) GetOuterTaper() []string {
	if len(c.OuterTaper) == 0 {
		return []string{"0.5arcsec"}
	}
	return append([]string(nil), c.OuterTaper...)
}

// GetNIter returns the CLEAN iteration limit or the default.
func (c *CubeConfig) GetNIter() int {
	if c.NIter == nil {
		return 1000
	}
	return *c.NIter
}
