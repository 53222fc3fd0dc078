package imagegen

import (
	"errors"
	"strings"
)

const (
	StyleNatural   = "natural"
	StyleGeometric = "geometric"
	StyleOrganic   = "organic"
	StyleArtistic  = "artistic"

	DefaultWidth    = 512
	DefaultHeight   = 512
	DefaultSteps    = 20
	DefaultCfgScale = 7.5

	minSide  = 64
	maxSide  = 1024
	maxSteps = 150
)

var (
	ErrEmptyPrompt      = errors.New("prompt is required")
	ErrInvalidStyle     = errors.New("invalid image style")
	ErrGenerationFailed = errors.New("image generation failed")
)

// Options are the generation parameters; zero fields take defaults.
type Options struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Steps    int     `json:"steps,omitempty"`
	CfgScale float64 `json:"cfg_scale,omitempty"`
	Style    string  `json:"style,omitempty"`
}

func ValidStyle(s string) bool {
	switch s {
	case StyleNatural, StyleGeometric, StyleOrganic, StyleArtistic:
		return true
	}
	return false
}

// Normalize fills defaults and clamps sizes. Unknown styles are rejected.
func (o Options) Normalize() (Options, error) {
	o.Style = strings.ToLower(strings.TrimSpace(o.Style))
	if o.Style == "" {
		o.Style = StyleNatural
	}
	if !ValidStyle(o.Style) {
		return o, ErrInvalidStyle
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	o.Width = clampSide(o.Width)
	o.Height = clampSide(o.Height)
	if o.Steps <= 0 {
		o.Steps = DefaultSteps
	}
	if o.Steps > maxSteps {
		o.Steps = maxSteps
	}
	if o.CfgScale <= 0 {
		o.CfgScale = DefaultCfgScale
	}
	return o, nil
}

// clampSide bounds a dimension and rounds it down to a multiple of 8.
func clampSide(n int) int {
	if n < minSide {
		n = minSide
	}
	if n > maxSide {
		n = maxSide
	}
	return n - n%8
}
