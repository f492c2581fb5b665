// Package genai is the HTTP client for the remote generative-model
// endpoint. It implements pipeline.Generator; quota exhaustion (HTTP
// 429 or a RESOURCE_EXHAUSTED body) surfaces as a rate-limit-class
// error so the pipeline's retry wrapper can absorb it.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"oratio/internal/pipeline"
	"oratio/internal/retry"
	"oratio/internal/schedule"
	logx "oratio/pkg/logx"
)

type Config struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	AudioModel string
	ImageModel string
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

var _ pipeline.Generator = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("genai: base_url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// ---- request/response envelopes ----

type textRequest struct {
	Model     string   `json:"model"`
	Task      string   `json:"task"` // "script" or "post"
	Theme     string   `json:"theme"`
	Subthemes []string `json:"subthemes,omitempty"`
	Language  string   `json:"language"`
	Form      string   `json:"form"` // "long" or "short"
	Script    string   `json:"script,omitempty"`
}

type textResponse struct {
	Text string         `json:"text,omitempty"`
	Post *pipeline.Post `json:"post,omitempty"`
}

type audioRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type audioResponse struct {
	Audio string `json:"audio"` // base64 PCM
}

type imageRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

type imageResponse struct {
	Image string `json:"image"` // base64
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ---- pipeline.Generator ----

func (c *Client) Script(ctx context.Context, theme string, subthemes []string, lang schedule.Language, kind schedule.Kind) (string, error) {
	req := textRequest{
		Model: c.cfg.TextModel, Task: "script",
		Theme: theme, Subthemes: subthemes,
		Language: string(lang), Form: string(kind),
	}
	var resp textResponse
	if err := c.post(ctx, "/v1/text", req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("genai: empty script in response")
	}
	return resp.Text, nil
}

func (c *Client) Post(ctx context.Context, script, theme string, subthemes []string, lang schedule.Language, kind schedule.Kind) (pipeline.Post, error) {
	req := textRequest{
		Model: c.cfg.TextModel, Task: "post",
		Theme: theme, Subthemes: subthemes,
		Language: string(lang), Form: string(kind),
		Script: script,
	}
	var resp textResponse
	if err := c.post(ctx, "/v1/text", req, &resp); err != nil {
		return pipeline.Post{}, err
	}
	if resp.Post == nil || strings.TrimSpace(resp.Post.Title) == "" {
		return pipeline.Post{}, errors.New("genai: missing post in response")
	}
	return *resp.Post, nil
}

func (c *Client) Narration(ctx context.Context, script, voice string) ([]byte, error) {
	req := audioRequest{Model: c.cfg.AudioModel, Text: script, Voice: voice}
	var resp audioResponse
	if err := c.post(ctx, "/v1/audio", req, &resp); err != nil {
		return nil, err
	}
	if resp.Audio == "" {
		return nil, errors.New("genai: empty audio in response")
	}
	// Returned as-is; the pipeline owns decoding.
	return []byte(resp.Audio), nil
}

func (c *Client) Image(ctx context.Context, prompt, aspect string) ([]byte, error) {
	req := imageRequest{Model: c.cfg.ImageModel, Prompt: prompt, AspectRatio: aspect}
	var resp imageResponse
	if err := c.post(ctx, "/v1/image", req, &resp); err != nil {
		return nil, err
	}
	if resp.Image == "" {
		return nil, errors.New("genai: empty image in response")
	}
	b, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("genai: decode image: %w", err)
	}
	return b, nil
}

// ---- transport ----

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Cap error bodies; success bodies may carry large payloads.
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return c.statusError(path, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("genai: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) statusError(path string, status int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	msg := er.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	err := fmt.Errorf("genai: %s: status %d: %s", path, status, msg)
	if status == http.StatusTooManyRequests || er.Error.Code == "RESOURCE_EXHAUSTED" {
		return retry.RateLimited(err)
	}
	return err
}
