package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts is the editable prompt bundle. It is re-read from disk on every
// call so prompt tuning does not require a restart.
type Prompts struct {
	SystemPrompt     string `yaml:"system_prompt"`
	UserPrompt       string `yaml:"user_prompt"`
	ProfilePrompt    string `yaml:"profile_prompt"`
	ComparisonPrompt string `yaml:"comparison_prompt"`
}

// LoadPrompts parses the YAML prompt bundle at path. A missing file yields
// an empty bundle rather than an error; callers fall back to built-in text.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Prompts{}, nil
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	return &p, nil
}

// System returns the summarization system prompt, with a built-in fallback.
func (p *Prompts) System() string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	return "You are a helpful assistant that summarizes articles."
}

// User interpolates {language}, {content} and {title} into the user prompt
// template.
func (p *Prompts) User(language, content, title string) string {
	template := p.UserPrompt
	if template == "" {
		template = "Summarize this article in {language}:\n\n{content}"
	}
	if title == "" {
		title = "Untitled"
	}
	r := strings.NewReplacer(
		"{language}", language,
		"{content}", content,
		"{title}", title,
	)
	return r.Replace(template)
}

// Profile returns the interest-profile prompt template.
func (p *Prompts) Profile() string {
	if p.ProfilePrompt != "" {
		return p.ProfilePrompt
	}
	return "Based on these liked articles, describe the reader's interests " +
		"and respond with JSON {\"profile\": string, \"tags\": [string]}:\n\n{articles}"
}

// Comparison returns the suggestion-scoring prompt template.
func (p *Prompts) Comparison() string {
	if p.ComparisonPrompt != "" {
		return p.ComparisonPrompt
	}
	return "Score how well each article matches the reader profile from 0 to 100. " +
		"Respond with JSON {\"matches\": [{\"id\": number, \"score\": number}]}.\n\n" +
		"Profile:\n{profile}\n\nArticles:\n{articles}"
}
