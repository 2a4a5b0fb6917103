// Package llm is the chat-completions client used for summaries, interest
// profiles and suggestion scoring. Calls go through a persisted circuit
// breaker and a round-robin API key rotator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"skimmer/internal/config"
	"skimmer/internal/logger"
	"skimmer/internal/store"
)

const (
	maxContentLen   = 12000
	maxOneLineLen   = 150
	keyCooldown     = 60 * time.Second
	maxTagLen       = 50
	maxTagsPerPost  = 10
	defaultMaxToken = 1000
)

// SummaryResult is a parsed, validated summary. Both summary fields empty
// means the source content was a garbage page; the worker records that as
// success.
type SummaryResult struct {
	Summary         string
	OneLineSummary  string
	TranslatedTitle string
	Tags            []string
}

// Empty reports whether the result carries no summary.
func (r *SummaryResult) Empty() bool {
	return r.Summary == "" && r.OneLineSummary == ""
}

// Client talks to the configured chat-completions endpoint.
type Client struct {
	cfg     *config.Settings
	st      *store.Store
	Rotator *KeyRotator
	Breaker *CircuitBreaker
	http    *http.Client
}

// NewClient builds the client with its persisted rotator and breaker.
func NewClient(ctx context.Context, cfg *config.Settings, st *store.Store) *Client {
	return &Client{
		cfg:     cfg,
		st:      st,
		Rotator: NewKeyRotator(ctx, st, cfg.APIKeys()),
		Breaker: NewCircuitBreaker(ctx, st, BreakerConfig{
			FailureThreshold:    cfg.FailureThreshold,
			RecoveryTimeout:     time.Duration(cfg.RecoveryTimeoutSeconds) * time.Second,
			HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
			MinInterval:         time.Duration(float64(time.Minute) / float64(cfg.CerebrasMaxRPM)),
		}),
		http: &http.Client{Timeout: cfg.LLMTimeout()},
	}
}

// Ready reports whether a call could be attempted right now: the circuit
// admits calls and at least one key is out of cooldown.
func (c *Client) Ready(ctx context.Context, now time.Time) bool {
	if ok, _ := c.Breaker.CanCall(ctx, now); !ok {
		return false
	}
	return c.Rotator.HasAvailableKey(now)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"message"`
		Text         string `json:"text"`
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends one system+user exchange and returns the assistant text. It
// enforces the breaker, rotates keys and maps HTTP failures onto
// temporary/permanent errors.
func (c *Client) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	now := time.Now().UTC()

	if ok, reason := c.Breaker.CanCall(ctx, now); !ok {
		return "", &TemporaryError{Err: fmt.Errorf("circuit breaker: %s", reason)}
	}

	key, keyIndex, ok := c.Rotator.NextKey(ctx, now)
	if !ok {
		return "", &TemporaryError{Err: ErrNoAvailableKey}
	}

	model, err := c.st.EffectiveModel(ctx, c.cfg.CerebrasModel)
	if err != nil {
		return "", &TemporaryError{Err: err}
	}

	if maxTokens <= 0 {
		maxTokens = defaultMaxToken
	}
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", &PermanentError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LLMAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", &PermanentError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors both count against the circuit.
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &TemporaryError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Rate limit benches only this key; it is not a circuit failure.
		c.Rotator.SetCooldown(key, keyCooldown, time.Now().UTC())
		return "", &TemporaryError{Err: fmt.Errorf("rate limit on key %d", keyIndex+1)}
	case resp.StatusCode >= 500:
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &TemporaryError{Err: fmt.Errorf("server error: http %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &PermanentError{Err: fmt.Errorf("request error: http %d", resp.StatusCode)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &PermanentError{Err: fmt.Errorf("undecodable response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &PermanentError{Err: fmt.Errorf("empty response")}
	}

	choice := decoded.Choices[0]
	if choice.FinishReason == "length" {
		logger.Warn("LLM response truncated", "finish_reason", choice.FinishReason)
	}

	// Models disagree about where the text lives.
	var text string
	switch {
	case choice.Message.Content != "":
		text = choice.Message.Content
	case choice.Message.Reasoning != "":
		text = choice.Message.Reasoning
	case choice.Text != "":
		text = choice.Text
	case choice.Content != "":
		text = choice.Content
	default:
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return "", &PermanentError{Err: fmt.Errorf("unknown response structure")}
	}

	c.Breaker.RecordSuccess(ctx, time.Now().UTC())
	return text, nil
}

// GenerateSummary produces a summary for one article. Garbage pages return
// an empty result without calling upstream.
func (c *Client) GenerateSummary(ctx context.Context, content, title string) (*SummaryResult, error) {
	if IsGarbage(content) {
		logger.Info("Content is an error/session page, skipping summary")
		return &SummaryResult{}, nil
	}

	if runes := []rune(content); len(runes) > maxContentLen {
		content = string(runes[:maxContentLen]) + "..."
	}

	language, err := c.st.EffectiveLanguage(ctx, c.cfg.SummaryLanguage)
	if err != nil {
		return nil, &TemporaryError{Err: err}
	}
	prompts, err := config.LoadPrompts(c.cfg.PromptsPath)
	if err != nil {
		return nil, &TemporaryError{Err: err}
	}

	text, err := c.Chat(ctx, prompts.System(), prompts.User(language, content, title), defaultMaxToken)
	if err != nil {
		return nil, err
	}

	payload, err := parseSummaryResponse(text)
	if err != nil {
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return nil, &PermanentError{Err: fmt.Errorf("invalid response: %w", err)}
	}

	result := &SummaryResult{
		Summary:         strings.TrimSpace(payload.Summary),
		OneLineSummary:  strings.TrimSpace(payload.OneLineSummary),
		TranslatedTitle: cleanTranslatedTitle(payload.TranslatedTitle),
		Tags:            NormalizeTags(payload.Tags),
	}

	// Both fields filled, or both empty (garbage the model recognized).
	// A half-filled result is unusable.
	if (result.Summary == "") != (result.OneLineSummary == "") {
		c.Breaker.RecordFailure(ctx, time.Now().UTC())
		return nil, &PermanentError{Err: fmt.Errorf("inconsistent summary fields")}
	}

	if runes := []rune(result.OneLineSummary); len(runes) > maxOneLineLen {
		result.OneLineSummary = string(runes[:maxOneLineLen-3]) + "..."
	}
	return result, nil
}

// Models lists the model ids available at the provider. It bypasses the
// breaker: the admin UI should see the list even while summaries are halted.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	key, _, ok := c.Rotator.NextKey(ctx, time.Now().UTC())
	if !ok {
		return nil, ErrNoAvailableKey
	}

	url := strings.TrimSuffix(c.cfg.LLMAPIURL, "/chat/completions") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models request: http %d", resp.StatusCode)
	}

	var decoded struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("undecodable models response: %w", err)
	}

	models := make([]string, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func cleanTranslatedTitle(title string) string {
	title = strings.TrimSpace(title)
	switch strings.ToLower(title) {
	case "null", "none":
		return ""
	}
	return title
}

// NormalizeTags lowercases, trims, bounds and dedupes a tag list.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || len(tag) > maxTagLen || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxTagsPerPost {
			break
		}
	}
	return out
}
