// Package acestep talks to the ACE-Step v1.5 REST API.
package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/satindergrewal/songdeck/internal/lyrics"
)

// ErrTaskFailed is returned when ACE-Step reports a failed task.
var ErrTaskFailed = errors.New("generation failed")

// Task status values reported by /query_result.
const (
	statusSuccess = 1
	statusFailed  = 2
)

// Client communicates with the ACE-Step v1.5 REST API.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume mount point
	http      *http.Client
	logger    *slog.Logger

	// HealthInterval is the pause between health probes.
	HealthInterval time.Duration
}

// NewClient creates an ACE-Step API client. outputDir may be empty when no
// volume is shared with ACE-Step.
func NewClient(apiURL, apiKey, outputDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:         apiURL,
		apiKey:         apiKey,
		outputDir:      outputDir,
		http:           &http.Client{Timeout: 30 * time.Second},
		logger:         logger.With("component", "acestep"),
		HealthInterval: 5 * time.Second,
	}
}

// GenerateRequest contains parameters for music generation.
type GenerateRequest struct {
	Caption        string  `json:"caption"`
	Lyrics         string  `json:"lyrics"`
	Duration       int     `json:"audio_duration"`
	InferenceSteps int     `json:"inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int     `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	AudioFormat    string  `json:"audio_format"`
}

// Result is one generated version.
type Result struct {
	// URI is where a browser can fetch the audio.
	URI string
	// Path is the file on the shared volume, empty if not present there.
	Path string
	// Words is the raw word alignment, nil if ACE-Step produced none.
	Words []lyrics.WireWord
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Result string `json:"result"` // JSON string with file info
}

type resultItem struct {
	File   string            `json:"file"`
	Status int               `json:"status"`
	Words  []lyrics.WireWord `json:"word_timestamps"`
}

// WaitForHealthy blocks until the ACE-Step API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context) error {
	c.logger.Info("waiting for ACE-Step API", "url", c.apiURL)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("create health request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				c.logger.Info("ACE-Step API is healthy")
				return nil
			}
		}

		c.logger.Debug("ACE-Step not ready", "retry_in", c.HealthInterval, "error", err)
		if err := sleep(ctx, c.HealthInterval); err != nil {
			return err
		}
	}
}

// Generate submits a music generation task and returns the task ID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var result releaseResp
	if err := c.post(ctx, "/release_task", req, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}
	if result.Data.TaskID == "" {
		return "", errors.New("API returned no task id")
	}
	return result.Data.TaskID, nil
}

// PollUntilDone polls until the task finishes and returns every generated
// version. Transport errors are retried; a failed task is not.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) ([]Result, error) {
	body := map[string][]string{"task_id_list": {taskID}}

	for {
		var result queryResp
		err := c.post(ctx, "/query_result", body, &result)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			c.logger.Warn("poll failed, retrying", "task", taskID, "error", err)
		case len(result.Data) > 0:
			task := result.Data[0]
			switch task.Status {
			case statusSuccess:
				return c.extractResults(task.Result)
			case statusFailed:
				return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskFailed)
			}
		}

		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractResults parses the result JSON. Items that did not produce a file
// are skipped.
func (c *Client) extractResults(resultJSON string) ([]Result, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return nil, fmt.Errorf("parse result items: %w", err)
	}

	out := make([]Result, 0, len(items))
	for _, item := range items {
		if item.File == "" {
			continue
		}
		out = append(out, Result{
			URI:   c.resolveURI(item.File),
			Path:  c.localPath(item.File),
			Words: item.Words,
		})
	}
	if len(out) == 0 {
		return nil, errors.New("no audio file in result")
	}
	return out, nil
}

// resolveURI turns ACE-Step's relative file references into absolute URLs.
func (c *Client) resolveURI(fileRef string) string {
	if u, err := url.Parse(fileRef); err == nil && u.IsAbs() {
		return fileRef
	}
	return c.apiURL + fileRef
}

// localPath maps a reference like "/v1/audio?path=outputs/task_xxx/0.mp3"
// onto the shared volume.
func (c *Client) localPath(fileRef string) string {
	if c.outputDir == "" {
		return ""
	}
	u, err := url.Parse(fileRef)
	if err != nil {
		return ""
	}
	rel := u.Query().Get("path")
	if rel == "" {
		return ""
	}
	p := filepath.Join(c.outputDir, filepath.Clean("/"+rel))
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
