package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// summaryPayload is the JSON object expected inside the model's reply.
type summaryPayload struct {
	Summary         string   `json:"summary_pt"`
	OneLineSummary  string   `json:"one_line_summary"`
	TranslatedTitle string   `json:"translated_title"`
	Tags            []string `json:"tags"`
}

var (
	codeFence    = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	jsonString   = regexp.MustCompile(`"[^"]*"`)
	summaryField = regexp.MustCompile(`(?s)"summary_pt"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	oneLineField = regexp.MustCompile(`(?s)"one_line_summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// parseSummaryResponse recovers the summary JSON from model output that may
// be wrapped in markdown fences, surrounded by prose, or mildly malformed.
// Attempts, in order: strict parse, fence-stripped parse, first-brace
// substring, newline-escaped substring, regex field extraction.
func parseSummaryResponse(content string) (*summaryPayload, error) {
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	var p summaryPayload
	if err := json.Unmarshal([]byte(content), &p); err == nil {
		return &p, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	candidate := content[start : end+1]

	if err := json.Unmarshal([]byte(candidate), &p); err == nil {
		return &p, nil
	}

	// Some models emit literal newlines inside string values.
	fixed := jsonString.ReplaceAllStringFunc(candidate, func(s string) string {
		s = strings.ReplaceAll(s, "\n", `\n`)
		return strings.ReplaceAll(s, "\r", `\r`)
	})
	if err := json.Unmarshal([]byte(fixed), &p); err == nil {
		return &p, nil
	}

	// Last resort: pull the two required fields out by regex.
	sm := summaryField.FindStringSubmatch(candidate)
	om := oneLineField.FindStringSubmatch(candidate)
	if sm != nil && om != nil {
		return &summaryPayload{
			Summary:        unescapeField(sm[1]),
			OneLineSummary: unescapeField(om[1]),
		}, nil
	}

	return nil, fmt.Errorf("could not parse JSON: %.200s", candidate)
}

// ParseJSON recovers an arbitrary JSON object from model output into v,
// using the same salvage chain as summaries minus field extraction.
func ParseJSON(content string, v any) error {
	if m := codeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	candidate := content[start : end+1]

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	fixed := jsonString.ReplaceAllStringFunc(candidate, func(s string) string {
		s = strings.ReplaceAll(s, "\n", `\n`)
		return strings.ReplaceAll(s, "\r", `\r`)
	})
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return fmt.Errorf("could not parse JSON: %.200s", candidate)
	}
	return nil
}

func unescapeField(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\r`, "\r")
	return strings.ReplaceAll(s, `\"`, `"`)
}
