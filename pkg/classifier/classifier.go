// Package classifier labels profiles as male, female or unknown using a
// vision language model. Calls are capped by a weighted semaphore shared
// across the whole run, independent of how many accounts feed it.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/sync/semaphore"

	"igfilter/pkg/config"
	errs "igfilter/pkg/errors"
	"igfilter/pkg/logger"
)

// Label is a classification outcome
type Label string

const (
	LabelMale    Label = "male"
	LabelFemale  Label = "female"
	LabelUnknown Label = "unknown"
)

const systemPrompt = `You are a gender classification assistant. Analyze the profile picture and name to determine the person's apparent gender. Answer with exactly one word: male, female, or unknown. Use unknown for logos, objects, groups, or anything ambiguous.`

// Request identifies one profile to classify. ImagePath may be empty, in
// which case only the names are sent.
type Request struct {
	Username  string
	FullName  string
	ImagePath string
}

// Result is the outcome of one classification. Err is set when the model
// could not be consulted; the label is then unknown.
type Result struct {
	Label Label
	Raw   string
	Err   error
}

// Classifier is safe for concurrent use
type Classifier struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	sem        *semaphore.Weighted
	logger     logger.Logger
}

// New creates a classifier from the vision configuration
func New(cfg *config.VisionConfig) *Classifier {
	return &Classifier{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:     logger.GetLogger(),
	}
}

// Classify labels one profile. It blocks while the in-flight cap is reached
// and never returns an error past the Result; a failed call yields unknown.
func (c *Classifier) Classify(ctx context.Context, req Request) Result {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{Label: LabelUnknown, Err: err}
	}
	defer c.sem.Release(1)

	raw, err := c.complete(ctx, req)
	if err != nil {
		c.logger.WarnWithFields("classification failed", map[string]interface{}{
			"username": req.Username,
			"error":    err.Error(),
		})
		return Result{Label: LabelUnknown, Err: err}
	}

	label := ParseLabel(raw)
	c.logger.DebugWithFields("profile classified", map[string]interface{}{
		"username": req.Username,
		"label":    string(label),
	})

	return Result{Label: label, Raw: raw}
}

// ParseLabel normalizes a model reply to a label. Anything that does not
// start with a known word counts as unknown.
func ParseLabel(raw string) Label {
	word := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(word, "female"):
		return LabelFemale
	case strings.HasPrefix(word, "male"):
		return LabelMale
	default:
		return LabelUnknown
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *contentLink `json:"image_url,omitempty"`
}

type contentLink struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Classifier) complete(ctx context.Context, req Request) (string, error) {
	question := fmt.Sprintf("What is this person's gender? Name: %q, Username: %q", req.FullName, req.Username)

	var userContent interface{} = question
	if req.ImagePath != "" {
		data, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return "", errs.Newf(errs.ErrorTypeClassify, "failed to read image: %v", err)
		}
		userContent = []contentPart{
			{Type: "text", Text: question},
			{Type: "image_url", ImageURL: &contentLink{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
			}},
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0,
		MaxTokens:   20,
	})
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeClassify, "failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeClassify, "failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeClassify, "vision request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeClassify, "failed to read response: %v", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errs.NewWithCode(errs.ErrorTypeClassify, resp.StatusCode, fmt.Sprintf("failed to parse response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return "", errs.NewWithCode(errs.ErrorTypeClassify, resp.StatusCode, message)
	}

	if len(parsed.Choices) == 0 {
		return "", errs.New(errs.ErrorTypeClassify, "response contained no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
