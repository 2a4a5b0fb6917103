// Package profile builds the reader's interest profile from liked posts.
// The profile text and tag list feed the suggestion engine.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"skimmer/internal/config"
	"skimmer/internal/llm"
	"skimmer/internal/logger"
	"skimmer/internal/store"
)

const (
	// minLikedPosts is the minimum number of summarized likes needed before
	// a profile is worth generating.
	minLikedPosts = 10
	maxLikedPosts = 50
	maxTokens     = 1000
)

// Chatter is the LLM dependency, satisfied by llm.Client.
type Chatter interface {
	Chat(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Profile is the persisted interest profile.
type Profile struct {
	Profile   string   `json:"profile"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Generator produces and persists interest profiles.
type Generator struct {
	st          *store.Store
	llm         Chatter
	promptsPath string
}

// NewGenerator builds a Generator.
func NewGenerator(st *store.Store, c Chatter, promptsPath string) *Generator {
	return &Generator{st: st, llm: c, promptsPath: promptsPath}
}

// Current returns the stored profile, or nil when none has been generated.
func Current(ctx context.Context, st *store.Store) (*Profile, error) {
	text, ok, err := st.GetSetting(ctx, store.SettingProfileText)
	if err != nil {
		return nil, err
	}
	if !ok || text == "" {
		return nil, nil
	}

	p := &Profile{Profile: text}
	if tagsJSON, ok, err := st.GetSetting(ctx, store.SettingProfileTags); err != nil {
		return nil, err
	} else if ok {
		// A corrupt tag list degrades to no tags rather than no profile.
		if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
			logger.Warn("Stored profile tags are not valid JSON", "error", err.Error())
		}
	}
	if updated, ok, err := st.GetSetting(ctx, store.SettingProfileUpdated); err != nil {
		return nil, err
	} else if ok {
		p.UpdatedAt = updated
	}
	return p, nil
}

// MarkStale flags the profile for regeneration; called whenever a like
// changes.
func MarkStale(ctx context.Context, st *store.Store) error {
	return st.SetSetting(ctx, store.SettingProfileStale, "1")
}

// IsStale reports whether the profile needs regeneration.
func IsStale(ctx context.Context, st *store.Store) (bool, error) {
	v, ok, err := st.GetSetting(ctx, store.SettingProfileStale)
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// Generate rebuilds the profile from recent likes. Returns nil without error
// when there are not enough summarized likes yet.
func (g *Generator) Generate(ctx context.Context, now time.Time) (*Profile, error) {
	liked, err := g.st.LikedSummaries(ctx, maxLikedPosts)
	if err != nil {
		return nil, err
	}
	if len(liked) < minLikedPosts {
		logger.Info("Not enough liked posts for a profile",
			"have", len(liked), "need", minLikedPosts)
		return nil, nil
	}

	var parts []string
	for _, ls := range liked {
		parts = append(parts, fmt.Sprintf("Title: %s\nSummary: %s", ls.Title, ls.Summary))
	}
	articles := strings.Join(parts, "\n---\n")

	prompts, err := config.LoadPrompts(g.promptsPath)
	if err != nil {
		return nil, err
	}
	prompt := strings.ReplaceAll(prompts.Profile(), "{articles}", articles)

	logger.Info("Generating interest profile", "liked_posts", len(liked))
	text, err := g.llm.Chat(ctx, "", prompt, maxTokens)
	if err != nil {
		return nil, err
	}

	var parsed Profile
	if err := llm.ParseJSON(text, &parsed); err != nil {
		return nil, fmt.Errorf("invalid profile response: %w", err)
	}
	parsed.Profile = strings.TrimSpace(parsed.Profile)
	if parsed.Profile == "" {
		return nil, fmt.Errorf("empty profile in response")
	}
	parsed.Tags = normalizeTags(parsed.Tags)
	parsed.UpdatedAt = now.UTC().Format(time.RFC3339)

	tagsJSON, err := json.Marshal(parsed.Tags)
	if err != nil {
		return nil, err
	}
	for key, value := range map[string]string{
		store.SettingProfileText:    parsed.Profile,
		store.SettingProfileTags:    string(tagsJSON),
		store.SettingProfileUpdated: parsed.UpdatedAt,
		store.SettingProfileStale:   "0",
	} {
		if err := g.st.SetSetting(ctx, key, value); err != nil {
			return nil, err
		}
	}

	logger.Info("Interest profile generated", "tags", len(parsed.Tags))
	return &parsed, nil
}

// normalizeTags lowercases, trims and dedupes. Unlike per-post tags the
// profile tag list is not capped; it is the matching vocabulary.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
