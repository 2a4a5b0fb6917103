package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"skimmer/internal/config"
)

const testArticle = "A long technical article about distributed systems. " +
	"It discusses consensus, replication and failure detection in depth, " +
	"with examples drawn from production incident reports."

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Settings{
		LLMAPIURL:              srv.URL,
		CerebrasAPIKey:         "key-a,key-b",
		CerebrasModel:          "llama-3.3-70b",
		CerebrasMaxRPM:         6000000, // keeps the breaker's pacing out of tests
		CerebrasTimeout:        5,
		SummaryLanguage:        "English",
		FailureThreshold:       5,
		RecoveryTimeoutSeconds: 300,
		HalfOpenMaxRequests:    3,
		PromptsPath:            "prompts-absent.yaml",
	}
	return NewClient(context.Background(), cfg, newTestStore(t))
}

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	})
	return string(body)
}

func TestGenerateSummarySuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer key-") {
			t.Errorf("authorization header = %q", got)
		}
		w.Write([]byte(chatReply(`{"summary_pt": "A detailed summary.", "one_line_summary": "One liner.", "translated_title": "Title", "tags": ["Go", "go", "Systems"]}`)))
	}))

	res, err := c.GenerateSummary(context.Background(), testArticle, "Original Title")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Summary != "A detailed summary." || res.OneLineSummary != "One liner." {
		t.Errorf("result = %+v", res)
	}
	if res.TranslatedTitle != "Title" {
		t.Errorf("translated title = %q", res.TranslatedTitle)
	}
	if len(res.Tags) != 2 || res.Tags[0] != "go" || res.Tags[1] != "systems" {
		t.Errorf("tags = %v", res.Tags)
	}
}

func TestGenerateSummaryModelRecognizedGarbage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"summary_pt": "", "one_line_summary": ""}`)))
	}))

	res, err := c.GenerateSummary(context.Background(), testArticle, "t")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Empty() {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestGenerateSummaryGarbageSkipsUpstream(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	res, err := c.GenerateSummary(context.Background(), "You signed in with another tab or window. Reload to refresh your session.", "t")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Empty() {
		t.Errorf("result = %+v, want empty", res)
	}
	if calls != 0 {
		t.Errorf("upstream called %d times for garbage content", calls)
	}
}

func TestGenerateSummaryHalfFilled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"summary_pt": "only the long one", "one_line_summary": ""}`)))
	}))

	_, err := c.GenerateSummary(context.Background(), testArticle, "t")
	if !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestGenerateSummaryTruncatesOneLine(t *testing.T) {
	long := strings.Repeat("x", 200)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"summary_pt": "long", "one_line_summary": "` + long + `"}`)))
	}))

	res, err := c.GenerateSummary(context.Background(), testArticle, "t")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.OneLineSummary) != maxOneLineLen {
		t.Errorf("one line length = %d, want %d", len(res.OneLineSummary), maxOneLineLen)
	}
	if !strings.HasSuffix(res.OneLineSummary, "...") {
		t.Errorf("one line = %q, want ... suffix", res.OneLineSummary)
	}
}

func TestGenerateSummaryTruncatesOnRunes(t *testing.T) {
	// Portuguese output regularly exceeds 150 bytes at 150 characters; a
	// byte-indexed cut would split a rune.
	long := strings.Repeat("ã", 200)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"summary_pt": "longo", "one_line_summary": "` + long + `"}`)))
	}))

	res, err := c.GenerateSummary(context.Background(), testArticle, "t")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !utf8.ValidString(res.OneLineSummary) {
		t.Fatalf("one line is not valid UTF-8: %q", res.OneLineSummary)
	}
	if n := utf8.RuneCountInString(res.OneLineSummary); n != maxOneLineLen {
		t.Errorf("one line runes = %d, want %d", n, maxOneLineLen)
	}
	if !strings.HasSuffix(res.OneLineSummary, "...") {
		t.Errorf("one line = %q, want ... suffix", res.OneLineSummary)
	}
}

func TestChatRateLimitBenchesKeyOnly(t *testing.T) {
	var keys []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		keys = append(keys, key)
		if len(keys) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatReply("ok")))
	}))

	ctx := context.Background()
	if _, err := c.Chat(ctx, "s", "u", 100); !IsTemporary(err) {
		t.Fatalf("rate limited call: err = %v, want temporary", err)
	}
	if c.Breaker.State() != StateClosed {
		t.Fatalf("429 counted as a circuit failure, state = %s", c.Breaker.State())
	}

	// The benched key is skipped; the rotator serves the other one.
	text, err := c.Chat(ctx, "s", "u", 100)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if keys[0] == keys[1] {
		t.Errorf("both calls used key %q", keys[0])
	}
}

func TestChatServerErrorsTripBreaker(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.Chat(ctx, "s", "u", 100); !IsTemporary(err) {
			t.Fatalf("call %d: err = %v, want temporary", i, err)
		}
	}
	if c.Breaker.State() != StateOpen {
		t.Fatalf("state after 5 server errors = %s", c.Breaker.State())
	}

	// An open breaker refuses without hitting upstream.
	if _, err := c.Chat(ctx, "s", "u", 100); !IsTemporary(err) {
		t.Fatalf("open circuit err = %v, want temporary", err)
	}
}

func TestChatClientErrorIsPermanent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	if _, err := c.Chat(context.Background(), "s", "u", 100); !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestChatAllKeysCoolingReturnsSentinel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	ctx := context.Background()
	c.Chat(ctx, "s", "u", 100)
	c.Chat(ctx, "s", "u", 100)

	_, err := c.Chat(ctx, "s", "u", 100)
	if !errors.Is(err, ErrNoAvailableKey) {
		t.Fatalf("err = %v, want ErrNoAvailableKey", err)
	}
}

func TestChatReasoningFallback(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "", "reasoning": "from reasoning"}, "finish_reason": "stop"}]}`))
	}))

	text, err := c.Chat(context.Background(), "s", "u", 100)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if text != "from reasoning" {
		t.Errorf("text = %q", text)
	}
}
