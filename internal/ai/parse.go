package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject returns the outermost {...} span, tolerating prose around it.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// ParseAnswer decodes the persona's JSON reply. Replies that are not JSON
// are kept as a plain-text answer with no citations.
func ParseAnswer(raw string) *Answer {
	text := stripCodeFence(raw)
	if obj, ok := extractObject(text); ok {
		var a Answer
		if err := json.Unmarshal([]byte(obj), &a); err == nil && strings.TrimSpace(a.Answer) != "" {
			a.Answer = strings.TrimSpace(a.Answer)
			a.Citations = cleanCitations(a.Citations)
			return &a
		}
	}
	return &Answer{Answer: text, Citations: []string{}}
}

func cleanCitations(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ParseQuiz decodes a generated quiz and drops malformed questions. It fails
// when no usable question remains.
func ParseQuiz(raw string) (*GeneratedQuiz, error) {
	obj, ok := extractObject(stripCodeFence(raw))
	if !ok {
		return nil, fmt.Errorf("%w: quiz reply is not JSON", ErrUnavailable)
	}
	var q GeneratedQuiz
	if err := json.Unmarshal([]byte(obj), &q); err != nil {
		return nil, fmt.Errorf("%w: decode quiz: %v", ErrUnavailable, err)
	}
	valid := q.Questions[:0]
	for _, gq := range q.Questions {
		if ValidQuestion(gq) {
			gq.Question = strings.TrimSpace(gq.Question)
			valid = append(valid, gq)
		}
	}
	q.Questions = valid
	if len(q.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no valid questions", ErrUnavailable)
	}
	q.Title = strings.TrimSpace(q.Title)
	return &q, nil
}

// ValidQuestion requires a prompt, at least two distinct non-empty options,
// and an in-range answer index.
func ValidQuestion(q GeneratedQuestion) bool {
	if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
		return false
	}
	seen := map[string]bool{}
	for _, o := range q.Options {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			return false
		}
		seen[o] = true
	}
	return q.CorrectIndex >= 0 && q.CorrectIndex < len(q.Options)
}

// CleanTitle trims quotes and whitespace and caps the title length.
func CleanTitle(s string, max int) string {
	s = strings.TrimSpace(stripCodeFence(s))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimPrefix(s, "Title: ")
	if r := []rune(s); len(r) > max {
		s = strings.TrimSpace(string(r[:max]))
	}
	return s
}
