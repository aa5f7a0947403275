package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// ComfyUI defaults.
const (
	defaultComfyTimeout      = 300 * time.Second
	defaultComfyPollInterval = time.Second
	comfyDownloadConcurrency = 4
	maxImageSize             = 64 << 20
)

// ErrTimeout is returned when a workflow does not finish in time.
var ErrTimeout = errors.New("workflow timed out")

// ComfyUI queues an image-generation workflow, polls its history until it
// finishes and downloads the produced images as artifacts.
type ComfyUI struct {
	client *http.Client
	vars   VariableSource
	log    *slog.Logger
}

// NewComfyUI creates the comfyui integration.
func NewComfyUI(d Deps) *ComfyUI {
	d = d.withFallbacks()
	return &ComfyUI{client: d.HTTPClient, vars: d.Variables, log: d.Logger}
}

func (c *ComfyUI) Description() string {
	return "ComfyUI workflow: queues the prompt, polls history and stores generated images"
}

type comfyInputs struct {
	ServerURL    string         `json:"server_url" validate:"required,url"`
	Workflow     map[string]any `json:"workflow" validate:"required"`
	Timeout      float64        `json:"timeout" validate:"gte=0"`
	PollInterval float64        `json:"poll_interval" validate:"gte=0"`
}

type comfyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
}

type comfyHistory struct {
	Outputs map[string]struct {
		Images []comfyImage `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

func (c *ComfyUI) parse(ctx context.Context, inputs model.Object) (comfyInputs, error) {
	var in comfyInputs
	merged, err := withDefaults(ctx, c.vars, TypeComfyUI, inputs)
	if err != nil {
		return in, err
	}
	return in, decodeInputs(merged, &in)
}

// ValidateInputs merges defaults and checks server_url and workflow.
func (c *ComfyUI) ValidateInputs(ctx context.Context, inputs model.Object) error {
	_, err := c.parse(ctx, inputs)
	return err
}

// Execute runs the workflow to completion or until its timeout.
func (c *ComfyUI) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	in, err := c.parse(ctx, inputs)
	if err != nil {
		return nil, err
	}
	timeout := seconds(in.Timeout, defaultComfyTimeout)
	poll := seconds(in.PollInterval, defaultComfyPollInterval)
	base := strings.TrimRight(in.ServerURL, "/")

	start := time.Now()
	promptID, err := c.queuePrompt(ctx, base, in.Workflow)
	if err != nil {
		return nil, err
	}
	c.log.Info("comfyui prompt queued", "prompt_id", promptID, "server", base)

	hist, err := c.waitForHistory(ctx, base, promptID, timeout, poll)
	if err != nil {
		return nil, err
	}
	if hist.Status.StatusStr == "error" {
		return nil, fmt.Errorf("comfyui prompt %s failed", promptID)
	}

	var images []comfyImage
	nodes := make([]string, 0, len(hist.Outputs))
	for id := range hist.Outputs {
		nodes = append(nodes, id)
	}
	slices.Sort(nodes)
	for _, id := range nodes {
		for _, img := range hist.Outputs[id].Images {
			img.NodeID = id
			images = append(images, img)
		}
	}

	artifacts := make([]ArtifactData, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(comfyDownloadConcurrency)
	for i, img := range images {
		g.Go(func() error {
			data, err := c.download(gctx, base, img)
			if err != nil {
				return fmt.Errorf("download %s: %w", img.Filename, err)
			}
			artifacts[i] = ArtifactData{
				Type: imageMIME(img.Filename),
				Data: data,
				Metadata: model.Object{
					"filename":  img.Filename,
					"subfolder": img.Subfolder,
					"node_id":   img.NodeID,
					"prompt_id": promptID,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	listed := make([]any, len(images))
	for i, img := range images {
		listed[i] = map[string]any{
			"filename":  img.Filename,
			"subfolder": img.Subfolder,
			"type":      img.Type,
			"node_id":   img.NodeID,
		}
	}
	return &Result{
		Outputs: model.Object{
			"prompt_id":      promptID,
			"images":         listed,
			"image_count":    len(images),
			"execution_time": time.Since(start).Seconds(),
		},
		Artifacts: artifacts,
	}, nil
}

func (c *ComfyUI) queuePrompt(ctx context.Context, base string, workflow map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("queue prompt: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("queue prompt: decode: %w", err)
	}
	if out.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt_id")
	}
	return out.PromptID, nil
}

// waitForHistory polls /history/{id} until the prompt has outputs or the
// timeout passes.
func (c *ComfyUI) waitForHistory(ctx context.Context, base, promptID string, timeout, poll time.Duration) (*comfyHistory, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		hist, err := c.history(ctx, base, promptID)
		if err != nil {
			return nil, err
		}
		if hist != nil && (len(hist.Outputs) > 0 || hist.Status.StatusStr == "error") {
			return hist, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("prompt %s after %s: %w", promptID, timeout, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (c *ComfyUI) history(ctx context.Context, base, promptID string) (*comfyHistory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: HTTP %d", resp.StatusCode)
	}
	var all map[string]comfyHistory
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	h, ok := all[promptID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (c *ComfyUI) download(ctx context.Context, base string, img comfyImage) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
}

func imageMIME(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); t != "" {
		return t
	}
	return "image/png"
}

func seconds(v float64, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}
