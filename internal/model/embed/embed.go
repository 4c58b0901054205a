package embed

import (
	"regexp"
	"strings"
)

// DefaultID names the profile used for embed ids without their own entry.
const DefaultID = "default"

// Embed is the per-widget configuration of the assistant.
type Embed struct {
	ID            string   `json:"id" yaml:"id"`
	AssistantName string   `json:"assistantName" yaml:"assistantName"`
	SystemPrompt  string   `json:"systemPrompt" yaml:"systemPrompt"`
	Greeting      string   `json:"greeting,omitempty" yaml:"greeting"`
	HelpKeywords  []string `json:"helpKeywords,omitempty" yaml:"helpKeywords"`
	HelpReply     string   `json:"helpReply,omitempty" yaml:"helpReply"`
}

// Default returns the built-in fallback profile.
func Default() Embed {
	return Embed{
		ID:            DefaultID,
		AssistantName: "Assistant",
		SystemPrompt: "You are a helpful assistant embedded on a website. Answer the visitor's " +
			"questions concisely and politely. If you do not know the answer, say so.",
		Greeting: "Hi! How can I help you today?",
	}
}

// BuildSystemPrompt composes the profile prompt with a per-request override.
// The override replaces the profile instructions but keeps the assistant name.
func BuildSystemPrompt(e Embed, override string) string {
	base := strings.TrimSpace(e.SystemPrompt)
	if o := strings.TrimSpace(override); o != "" {
		base = o
	}

	var b strings.Builder
	if e.AssistantName != "" {
		b.WriteString("Your name is ")
		b.WriteString(e.AssistantName)
		b.WriteString(".\n")
	}
	b.WriteString(base)
	return b.String()
}

// HelpRule answers messages that mention a help keyword with a fixed reply.
type HelpRule struct {
	pattern *regexp.Regexp
	reply   string
}

// NewHelpRule compiles a case-insensitive whole-word matcher. It returns nil
// when there are no keywords or no reply.
func NewHelpRule(keywords []string, reply string) *HelpRule {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}

	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil
	}

	return &HelpRule{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		reply:   reply,
	}
}

// Match returns the canned reply when text contains a keyword.
func (r *HelpRule) Match(text string) (string, bool) {
	if r == nil || !r.pattern.MatchString(text) {
		return "", false
	}
	return r.reply, true
}

// Rule returns the profile's own help rule, falling back to fallback.
func (e Embed) Rule(fallback *HelpRule) *HelpRule {
	if rule := NewHelpRule(e.HelpKeywords, e.HelpReply); rule != nil {
		return rule
	}
	return fallback
}
