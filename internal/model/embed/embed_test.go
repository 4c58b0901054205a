package embed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	store := NewMemoryStore([]Embed{{ID: "shop", AssistantName: "Shopbot", SystemPrompt: "Sell things."}})

	if got := store.Resolve("shop"); got.AssistantName != "Shopbot" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	got := store.Resolve("unknown-widget")
	if got.ID != "unknown-widget" {
		t.Fatalf("fallback should carry the requested id, got %q", got.ID)
	}
	if got.SystemPrompt != Default().SystemPrompt {
		t.Fatalf("fallback should use default prompt, got %q", got.SystemPrompt)
	}
}

func TestBuildSystemPromptOverride(t *testing.T) {
	e := Embed{AssistantName: "Ava", SystemPrompt: "Be brief."}

	if got := BuildSystemPrompt(e, ""); got != "Your name is Ava.\nBe brief." {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if got := BuildSystemPrompt(e, "  Talk like a pirate. "); !strings.HasSuffix(got, "Talk like a pirate.") {
		t.Fatalf("override not applied: %q", got)
	}
}

func TestHelpRuleMatchesWholeWords(t *testing.T) {
	rule := NewHelpRule([]string{"help", "human agent"}, "Email support@example.com")

	cases := map[string]bool{
		"HELP!":                       true,
		"can I talk to a Human Agent": true,
		"helpful tips":                false,
		"hello":                       false,
	}
	for text, want := range cases {
		if _, ok := rule.Match(text); ok != want {
			t.Errorf("Match(%q) = %v, want %v", text, ok, want)
		}
	}

	if NewHelpRule(nil, "reply") != nil || NewHelpRule([]string{"help"}, "") != nil {
		t.Fatal("incomplete rules must be nil")
	}
	var none *HelpRule
	if _, ok := none.Match("help"); ok {
		t.Fatal("nil rule must never match")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeds.yaml")
	content := `embeds:
  - id: default
    assistantName: Helper
    systemPrompt: Default prompt.
  - id: clinic
    assistantName: Nurse Joy
    systemPrompt: Answer clinic questions.
    helpKeywords: [help, emergency]
    helpReply: Call 911 for emergencies.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile err: %v", err)
	}
	if got := store.Resolve("other"); got.AssistantName != "Helper" {
		t.Fatalf("file default should replace built-in default, got %+v", got)
	}
	clinic := store.Resolve("clinic")
	if reply, ok := clinic.Rule(nil).Match("this is an emergency"); !ok || reply != "Call 911 for emergencies." {
		t.Fatalf("clinic rule mismatch: %q %v", reply, ok)
	}
}

func TestLoadFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeds.yaml")
	content := "embeds:\n  - id: a\n  - id: a\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
