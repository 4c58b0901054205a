// Package lead detects contact details (emails, phone numbers, names) in
// free-form user text. Detection is heuristic: every detector tries its
// keyword-anchored patterns first and only falls back to a bare pattern when
// none of them matched.
package lead

import (
	"regexp"
	"sort"
	"strings"
)

// Result holds the de-duplicated candidates found by each detector.
type Result struct {
	Emails []string
	Phones []string
	Names  []string
}

// Empty reports that no detector found anything.
func (r Result) Empty() bool {
	return len(r.Emails) == 0 && len(r.Phones) == 0 && len(r.Names) == 0
}

const (
	phoneShape = `\(?\b\d{3}\b\)?[-.\s]?\b\d{3}\b[-.\s]?\b\d{4}\b`
	nameShape  = `\b[A-Z][a-z']+(?:\s+[A-Z][a-z']+){0,2}\b`
)

var (
	emailPattern = regexp.MustCompile("[a-zA-Z0-9.!#$%&'*+/=?^_\x60{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+")

	phoneKeywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:my\s+phone(?:\s+number)?\s+is|call\s+me\s+at|my\s+number\s+is|contact\s+no\.?\s*(?:is)?)\s*:?\s*(` + phoneShape + `)`),
		regexp.MustCompile(`(?i)(\bphone(?:\s+number)?\b|\bcell\b|\bmobile\b)\s*:?\s*(` + phoneShape + `)`),
	}
	phoneFallback   = regexp.MustCompile(phoneShape)
	phoneSeparators = regexp.MustCompile(`[-.\s()]`)

	// The keyword patterns are case-insensitive as a whole, so the name shape
	// inside them also accepts lowercase words.
	nameKeywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:my\s+name\s+is|i\s*am|i'm)\s+(` + nameShape + `)`),
		regexp.MustCompile(`(?i)(?:call\s+me)\s+(` + nameShape + `)`),
	}
	// Any run of two or three capitalized words. Matches place names and
	// team names too.
	nameFallback = regexp.MustCompile(`\b[A-Z][a-z']+\s+[A-Z][a-z']+(?:\s+[A-Z][a-z']+)?`)
)

// Extract runs all detectors over text.
func Extract(text string) Result {
	return Result{
		Emails: DetectEmails(text),
		Phones: DetectPhones(text),
		Names:  DetectNames(text),
	}
}

// DetectEmails returns the unique email-like tokens in text.
func DetectEmails(text string) []string {
	return unique(emailPattern.FindAllString(text, -1))
}

// DetectPhones returns unique phone numbers with separators stripped.
func DetectPhones(text string) []string {
	found := matchLastGroup(phoneKeywordPatterns, text)
	if len(found) == 0 {
		found = phoneFallback.FindAllString(text, -1)
	}

	cleaned := make([]string, 0, len(found))
	for _, phone := range found {
		cleaned = append(cleaned, phoneSeparators.ReplaceAllString(strings.TrimSpace(phone), ""))
	}
	return unique(cleaned)
}

// DetectNames returns unique candidate person names.
func DetectNames(text string) []string {
	var found []string
	for _, candidate := range matchLastGroup(nameKeywordPatterns, text) {
		if compactLen(candidate) > 1 {
			found = append(found, candidate)
		}
	}

	if len(found) == 0 {
		for _, candidate := range nameFallback.FindAllString(text, -1) {
			if compactLen(candidate) > 2 {
				found = append(found, candidate)
			}
		}
	}

	trimmed := make([]string, 0, len(found))
	for _, name := range found {
		trimmed = append(trimmed, strings.TrimSpace(name))
	}
	return unique(trimmed)
}

func matchLastGroup(patterns []*regexp.Regexp, text string) []string {
	var out []string
	for _, pattern := range patterns {
		for _, groups := range pattern.FindAllStringSubmatch(text, -1) {
			out = append(out, strings.TrimSpace(groups[len(groups)-1]))
		}
	}
	return out
}

func compactLen(s string) int {
	return len(strings.ReplaceAll(s, " ", ""))
}

func unique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
