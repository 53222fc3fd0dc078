package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/suPer8Hu/webchat/internal/logger"
)

const (
	sdGenerateTimeout = 5 * time.Minute
	sdProbeTimeout    = 3 * time.Second
)

// SDClient talks to a Stable Diffusion WebUI compatible API.
type SDClient struct {
	client *resty.Client
}

func NewSDClient() *SDClient {
	return &SDClient{client: resty.New().SetTimeout(sdGenerateTimeout)}
}

type txt2imgRequest struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CfgScale float64 `json:"cfg_scale"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Probe checks the progress endpoint of baseURL.
func (c *SDClient) Probe(ctx context.Context, baseURL string) error {
	pctx, cancel := context.WithTimeout(ctx, sdProbeTimeout)
	defer cancel()

	res, err := c.client.R().SetContext(pctx).Get(strings.TrimRight(baseURL, "/") + "/sdapi/v1/progress")
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("sd probe: status %d", res.StatusCode())
	}
	return nil
}

// Txt2Img returns the first generated image as PNG bytes.
func (c *SDClient) Txt2Img(ctx context.Context, baseURL, prompt string, opts Options) ([]byte, error) {
	var out txt2imgResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(txt2imgRequest{
			Prompt:   prompt,
			Width:    opts.Width,
			Height:   opts.Height,
			Steps:    opts.Steps,
			CfgScale: opts.CfgScale,
		}).
		SetResult(&out).
		Post(strings.TrimRight(baseURL, "/") + "/sdapi/v1/txt2img")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("sd txt2img: status %d: %s", res.StatusCode(), truncate(res.String(), 200))
	}
	if len(out.Images) == 0 || out.Images[0] == "" {
		return nil, errors.New("sd txt2img: no images in response")
	}
	return decodeImage(out.Images[0])
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Discovery tracks which of the configured SD endpoints is live. It resolves once
// at startup and then re-probes on an interval; requests read the cached result.
type Discovery struct {
	client     *SDClient
	candidates []string
	interval   time.Duration
	log        *logger.Logger

	mu     sync.RWMutex
	active string
}

func NewDiscovery(client *SDClient, candidates []string, interval time.Duration, log *logger.Logger) *Discovery {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Discovery{
		client:     client,
		candidates: candidates,
		interval:   interval,
		log:        log.With("component", "sd_discovery"),
	}
}

// Endpoint returns the live base URL, if any.
func (d *Discovery) Endpoint() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active, d.active != ""
}

// Refresh keeps the current endpoint while it answers, otherwise probes the
// candidates in order.
func (d *Discovery) Refresh(ctx context.Context) string {
	current, _ := d.Endpoint()
	if current != "" && d.client.Probe(ctx, current) == nil {
		return current
	}

	next := ""
	for _, base := range d.candidates {
		if ctx.Err() != nil {
			break
		}
		if err := d.client.Probe(ctx, base); err != nil {
			d.log.Debug("sd candidate down", "base_url", base, "error", err)
			continue
		}
		next = base
		break
	}

	d.mu.Lock()
	d.active = next
	d.mu.Unlock()

	switch {
	case next != "" && next != current:
		d.log.Info("sd endpoint selected", "base_url", next)
	case next == "" && current != "":
		d.log.Warn("sd endpoint lost", "base_url", current)
	}
	return next
}

// MarkDown drops base if it is the active endpoint, so the next request skips it
// until the health loop finds it again.
func (d *Discovery) MarkDown(base string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == base {
		d.active = ""
	}
}

// Run refreshes on every tick until ctx is done.
func (d *Discovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}
