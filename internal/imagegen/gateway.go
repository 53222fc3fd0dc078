// Package imagegen produces images from prompts through a chain of generators and
// stores the result as a user file.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/suPer8Hu/webchat/internal/blob"
	"github.com/suPer8Hu/webchat/internal/logger"
)

const (
	SourceOllama      = "ollama"
	SourceSD          = "stable-diffusion"
	SourcePlaceholder = "placeholder"
)

// FileSaver is the slice of blob.Store the gateway needs.
type FileSaver interface {
	Save(ctx context.Context, userID uint64, data []byte, originalName, mimeType string, category blob.Category, tags map[string]any) (*blob.FileMetadata, error)
}

type Gateway struct {
	ollama    *OllamaImageClient
	sd        *SDClient
	discovery *Discovery
	files     FileSaver
	log       *logger.Logger
	now       func() time.Time
}

// NewGateway wires the generator chain. ollama and discovery may be nil to skip
// those stages.
func NewGateway(ollama *OllamaImageClient, sd *SDClient, discovery *Discovery, files FileSaver, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	if sd == nil {
		sd = NewSDClient()
	}
	return &Gateway{
		ollama:    ollama,
		sd:        sd,
		discovery: discovery,
		files:     files,
		log:       log.With("component", "imagegen"),
		now:       time.Now,
	}
}

type generated struct {
	data   []byte
	source string
	model  string
}

// GenerateImage tries the Ollama image model, then Stable Diffusion, then the local
// placeholder. Stage failures are logged and skipped. Every call stores a new file.
func (g *Gateway) GenerateImage(ctx context.Context, userID uint64, prompt string, opts Options) (*blob.FileMetadata, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	out, err := g.generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	at := g.now()
	tags := map[string]any{
		"prompt":       prompt,
		"model":        out.model,
		"width":        opts.Width,
		"height":       opts.Height,
		"style":        opts.Style,
		"steps":        opts.Steps,
		"cfg_scale":    opts.CfgScale,
		"generated_at": at.UTC().Format(time.RFC3339),
		"source":       out.source,
	}
	meta, err := g.files.Save(ctx, userID, out.data, fileNameFor(prompt), "image/png", blob.CategoryImages, tags)
	if err != nil {
		return nil, err
	}
	g.log.Info("image generated", "user_id", userID, "file_id", meta.ID, "source", out.source)
	return meta, nil
}

func (g *Gateway) generate(ctx context.Context, prompt string, opts Options) (*generated, error) {
	if g.ollama != nil && g.ollama.Model() != "" {
		data, err := g.ollama.Generate(ctx, prompt, opts)
		if err == nil {
			return &generated{data: data, source: SourceOllama, model: g.ollama.Model()}, nil
		}
		g.log.Warn("ollama image stage failed", "error", err)
	}

	if g.discovery != nil {
		if base, ok := g.discovery.Endpoint(); ok {
			data, err := g.sd.Txt2Img(ctx, base, prompt, opts)
			if err == nil {
				return &generated{data: data, source: SourceSD, model: SourceSD}, nil
			}
			g.log.Warn("stable diffusion stage failed", "base_url", base, "error", err)
			if !errors.Is(err, context.Canceled) {
				g.discovery.MarkDown(base)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := RenderPlaceholder(prompt, opts, g.now())
	if err != nil {
		g.log.Error("placeholder stage failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return &generated{data: data, source: SourcePlaceholder, model: SourcePlaceholder}, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

func fileNameFor(prompt string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(prompt), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		slug = "image"
	}
	return "generated-" + slug + ".png"
}
