// Package suggest marks posts matching the reader's interest profile.
// Candidates are pre-filtered by tag overlap, then scored in one batch LLM
// call.
package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"skimmer/internal/config"
	"skimmer/internal/core"
	"skimmer/internal/llm"
	"skimmer/internal/logger"
	"skimmer/internal/profile"
	"skimmer/internal/store"
)

const (
	// minTagOverlap is the number of shared tags with the profile required
	// before a post is worth an LLM comparison.
	minTagOverlap = 3
	maxCandidates = 50
	// candidatePool bounds the recent-post scan before overlap filtering.
	candidatePool   = 500
	candidateWindow = 24 * time.Hour
	minScore        = 80
	maxTokens       = 2000
)

// Chatter is the LLM dependency, satisfied by llm.Client.
type Chatter interface {
	Chat(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Engine scores candidates against the interest profile.
type Engine struct {
	st          *store.Store
	llm         Chatter
	promptsPath string
}

// NewEngine builds an Engine.
func NewEngine(st *store.Store, c Chatter, promptsPath string) *Engine {
	return &Engine{st: st, llm: c, promptsPath: promptsPath}
}

// Candidate is a post that passed the tag-overlap pre-filter.
type Candidate struct {
	Post    core.Post
	Overlap int
}

// Candidates returns recent summarized posts sharing at least minTagOverlap
// tags with the profile, strongest overlap first, capped to maxCandidates.
func (e *Engine) Candidates(ctx context.Context, profileTags []string, now time.Time) ([]Candidate, error) {
	if len(profileTags) == 0 {
		return nil, nil
	}
	tagSet := make(map[string]bool, len(profileTags))
	for _, t := range profileTags {
		tagSet[strings.ToLower(t)] = true
	}

	posts, err := e.st.SuggestionCandidates(ctx, now.Add(-candidateWindow), candidatePool)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for i := range posts {
		tags, err := e.st.PostTags(ctx, posts[i].ID)
		if err != nil {
			return nil, err
		}
		overlap := 0
		for _, t := range tags {
			if tagSet[strings.ToLower(t)] {
				overlap++
			}
		}
		if overlap >= minTagOverlap {
			out = append(out, Candidate{Post: posts[i], Overlap: overlap})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Overlap > out[j].Overlap })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out, nil
}

// Process runs one suggestion pass and returns how many posts were marked.
// Without a profile, or without candidates, it is a no-op.
func (e *Engine) Process(ctx context.Context, now time.Time) (int, error) {
	prof, err := profile.Current(ctx, e.st)
	if err != nil {
		return 0, err
	}
	if prof == nil || prof.Profile == "" {
		logger.Debug("No interest profile yet, skipping suggestions")
		return 0, nil
	}

	candidates, err := e.Candidates(ctx, prof.Tags, now)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		logger.Debug("No suggestion candidates")
		return 0, nil
	}
	logger.Info("Scoring suggestion candidates", "count", len(candidates))

	var parts []string
	eligible := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		eligible[c.Post.ID] = true
		oneLine := "No summary"
		if sum, err := e.st.GetSummaryByHash(ctx, c.Post.ContentHash); err != nil {
			return 0, err
		} else if sum != nil && sum.OneLineSummary != "" {
			oneLine = sum.OneLineSummary
		}
		parts = append(parts, fmt.Sprintf("ID: %d\nTitle: %s\nSummary: %s",
			c.Post.ID, c.Post.Title, oneLine))
	}

	prompts, err := config.LoadPrompts(e.promptsPath)
	if err != nil {
		return 0, err
	}
	prompt := strings.NewReplacer(
		"{profile}", prof.Profile,
		"{articles}", strings.Join(parts, "\n---\n"),
	).Replace(prompts.Comparison())

	text, err := e.llm.Chat(ctx, "", prompt, maxTokens)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Matches []struct {
			ID    int64 `json:"id"`
			Score int   `json:"score"`
		} `json:"matches"`
	}
	if err := llm.ParseJSON(text, &parsed); err != nil {
		return 0, fmt.Errorf("invalid suggestion response: %w", err)
	}

	marked := 0
	for _, m := range parsed.Matches {
		if m.Score < minScore || !eligible[m.ID] {
			continue
		}
		if err := e.st.MarkSuggested(ctx, m.ID, m.Score, now); err != nil {
			return marked, err
		}
		marked++
	}

	logger.Info("Suggestion pass complete", "marked", marked)
	return marked, nil
}
