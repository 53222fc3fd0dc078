package imagegen

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image/color"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

const overlayMaxRunes = 50

type palette [3]color.NRGBA

func rgb(hex uint32) color.NRGBA {
	return color.NRGBA{R: uint8(hex >> 16), G: uint8(hex >> 8), B: uint8(hex), A: 0xff}
}

// keywordPalettes is checked in order; the first keyword found in the prompt wins.
var keywordPalettes = []struct {
	keywords []string
	colors   palette
}{
	{[]string{"sunset", "sunrise", "dusk", "autumn"}, palette{rgb(0xff7e5f), rgb(0xfeb47b), rgb(0x6a3093)}},
	{[]string{"ocean", "sea", "water", "wave", "beach"}, palette{rgb(0x0f4c75), rgb(0x3282b8), rgb(0xbbe1fa)}},
	{[]string{"forest", "tree", "jungle", "nature", "grass"}, palette{rgb(0x134e5e), rgb(0x71b280), rgb(0xc9e4ca)}},
	{[]string{"night", "space", "star", "galaxy", "moon"}, palette{rgb(0x0f0c29), rgb(0x302b63), rgb(0x24243e)}},
	{[]string{"fire", "lava", "flame", "volcano"}, palette{rgb(0x8e0e00), rgb(0xe65c00), rgb(0xf9d423)}},
	{[]string{"snow", "ice", "winter", "frost"}, palette{rgb(0xe6f0f7), rgb(0xa1c4fd), rgb(0x5d7ea8)}},
	{[]string{"flower", "rose", "pink", "love"}, palette{rgb(0xee9ca7), rgb(0xffdde1), rgb(0xb24592)}},
	{[]string{"desert", "sand", "dune"}, palette{rgb(0xc2a36b), rgb(0xedc9af), rgb(0x8b5a2b)}},
	{[]string{"city", "urban", "cyberpunk", "neon"}, palette{rgb(0x2c3e50), rgb(0xfc00ff), rgb(0x00dbde)}},
}

func promptSeed(prompt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return h.Sum64()
}

// paletteFor picks a palette by keyword, or derives one from the prompt hash.
func paletteFor(prompt string) palette {
	lower := strings.ToLower(prompt)
	for _, kp := range keywordPalettes {
		for _, kw := range kp.keywords {
			if strings.Contains(lower, kw) {
				return kp.colors
			}
		}
	}

	seed := promptSeed(prompt)
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var p palette
	for i := range p {
		hue := math.Mod(float64(seed%360)+float64(i)*137.508, 360) / 360
		p[i] = hslToRGB(hue, 0.4+0.4*r.Float64(), 0.3+0.4*r.Float64())
	}
	return p
}

func hslToRGB(h, s, l float64) color.NRGBA {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}
	return color.NRGBA{R: conv(h + 1.0/3), G: conv(h), B: conv(h - 1.0/3), A: 0xff}
}

func withAlpha(c color.NRGBA, a uint8) color.NRGBA {
	c.A = a
	return c
}

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

func overlayFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(gobold.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", fontErr)
	}
	return truetype.NewFace(fontTTF, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// RenderPlaceholder draws a prompt-styled PNG locally. The shapes are seeded by
// the prompt; the overlay carries the render time, so two renders differ.
func RenderPlaceholder(prompt string, opts Options, at time.Time) ([]byte, error) {
	w, h := opts.Width, opts.Height
	fw, fh := float64(w), float64(h)
	colors := paletteFor(prompt)
	seed := promptSeed(prompt)
	r := rand.New(rand.NewPCG(seed, uint64(len(prompt))))

	dc := gg.NewContext(w, h)

	switch opts.Style {
	case StyleGeometric:
		dc.SetColor(colors[0])
		dc.Clear()
		for i := 0; i < 8; i++ {
			dc.SetColor(withAlpha(colors[r.IntN(len(colors))], 220))
			x, y := r.Float64()*fw, r.Float64()*fh
			size := 30 + r.Float64()*(math.Min(fw, fh)/3-30)
			switch r.IntN(3) {
			case 0:
				dc.DrawRectangle(x, y, size, size)
			case 1:
				dc.DrawCircle(x, y, size/2)
			default:
				dc.MoveTo(x, y+size)
				dc.LineTo(x+size/2, y)
				dc.LineTo(x+size, y+size)
				dc.ClosePath()
			}
			dc.Fill()
		}

	case StyleOrganic:
		grad := gg.NewLinearGradient(0, 0, 0, fh)
		grad.AddColorStop(0, colors[0])
		grad.AddColorStop(0.5, colors[1])
		grad.AddColorStop(1, colors[2])
		dc.SetFillStyle(grad)
		dc.DrawRectangle(0, 0, fw, fh)
		dc.Fill()
		for i := 0; i < 6; i++ {
			dc.SetColor(withAlpha(colors[r.IntN(len(colors))], 140))
			dc.SetLineWidth(4 + r.Float64()*10)
			amp := 10 + r.Float64()*fh/8
			phase := r.Float64() * 2 * math.Pi
			base := r.Float64() * fh
			for x := 0.0; x <= fw; x += 4 {
				y := base + amp*math.Sin(x/fw*2*math.Pi+phase)
				if x == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.Stroke()
		}

	case StyleArtistic:
		dc.SetColor(colors[0])
		dc.Clear()
		dc.SetLineCapRound()
		for i := 0; i < 20; i++ {
			dc.SetColor(withAlpha(colors[r.IntN(len(colors))], 200))
			x1, y1 := r.Float64()*fw, r.Float64()*fh
			x2, y2 := x1+r.Float64()*200-100, y1+r.Float64()*200-100
			dc.SetLineWidth(3 + r.Float64()*12)
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}

	default:
		grad := gg.NewLinearGradient(0, 0, 0, fh)
		grad.AddColorStop(0, colors[0])
		grad.AddColorStop(1, colors[1])
		dc.SetFillStyle(grad)
		dc.DrawRectangle(0, 0, fw, fh)
		dc.Fill()
		for i := 0; i < 3; i++ {
			dc.SetColor(withAlpha(colors[r.IntN(len(colors))], 100))
			size := 20 + r.Float64()*(math.Min(fw, fh)/4-20)
			dc.DrawCircle(r.Float64()*fw, r.Float64()*fh, size)
			dc.Fill()
		}
	}

	if err := drawOverlay(dc, prompt, at); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func overlayText(prompt string) string {
	text := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(text) > overlayMaxRunes {
		text = string([]rune(text)[:overlayMaxRunes]) + "..."
	}
	return text
}

func drawOverlay(dc *gg.Context, prompt string, at time.Time) error {
	fw, fh := float64(dc.Width()), float64(dc.Height())
	size := math.Max(12, math.Min(fw, fh)/20)
	face, err := overlayFace(size)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	text := overlayText(prompt)
	tw, th := dc.MeasureString(text)
	const pad = 10.0
	x := math.Max(pad, (fw-tw)/2)
	y := fh - th - 2*pad

	dc.SetRGBA(0, 0, 0, 0.5)
	dc.DrawRectangle(x-pad, y-pad, tw+2*pad, th+2*pad)
	dc.Fill()
	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x, y, 0, 1)

	small, err := overlayFace(math.Max(10, size*0.6))
	if err != nil {
		return err
	}
	dc.SetFontFace(small)
	dc.SetRGBA(1, 1, 1, 0.85)
	dc.DrawStringAnchored("placeholder · "+at.UTC().Format(time.RFC3339), pad, pad, 0, 1)
	return nil
}
