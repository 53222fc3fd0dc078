package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// OllamaImageClient asks an image capable Ollama model for a picture through
// /api/generate.
type OllamaImageClient struct {
	baseURL string
	model   string
	client  *resty.Client
}

func NewOllamaImageClient(baseURL, model string) *OllamaImageClient {
	return &OllamaImageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   strings.TrimSpace(model),
		client:  resty.New().SetTimeout(sdGenerateTimeout),
	}
}

func (c *OllamaImageClient) Model() string { return c.model }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Steps  int    `json:"steps,omitempty"`
}

type ollamaGenerateResponse struct {
	Image  string   `json:"image"`
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

func (c *OllamaImageClient) Generate(ctx context.Context, prompt string, opts Options) ([]byte, error) {
	if c.model == "" {
		return nil, errors.New("ollama image: no model configured")
	}
	var out ollamaGenerateResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{
			Model:  c.model,
			Prompt: prompt,
			Stream: false,
			Width:  opts.Width,
			Height: opts.Height,
			Steps:  opts.Steps,
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.baseURL + "/api/generate")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		if out.Error != "" {
			return nil, fmt.Errorf("ollama image: status %d: %s", res.StatusCode(), out.Error)
		}
		return nil, fmt.Errorf("ollama image: status %d", res.StatusCode())
	}

	b64 := out.Image
	if b64 == "" && len(out.Images) > 0 {
		b64 = out.Images[0]
	}
	if b64 == "" {
		return nil, errors.New("ollama image: model returned no image")
	}
	return decodeImage(b64)
}
