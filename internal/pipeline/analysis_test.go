package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"callintel/internal/calls"
)

func TestParseAnalysis_FencedAndCoerced(t *testing.T) {
	out := "Here you go:\n```json\n{\"summary\":\"Billing question\",\"sentiment\":\"Mixed\",\"priority\":\"critical\",\"keywords\":[\" bill \",\"\"]}\n```"
	a, ok := parseAnalysis(out)
	if !ok {
		t.Fatalf("expected parse")
	}
	if a.Sentiment != calls.SentimentNeutral || a.Priority != calls.PriorityMedium {
		t.Fatalf("expected coerced enums, got %+v", a)
	}
	if a.Intent != "unknown" || a.Category != "general" {
		t.Fatalf("expected defaults, got %+v", a)
	}
	if len(a.Keywords) != 1 || a.Keywords[0] != "bill" {
		t.Fatalf("unexpected keywords: %v", a.Keywords)
	}
}

func TestParseAnalysis_Rejects(t *testing.T) {
	for _, in := range []string{"", "no json here", `{"sentiment":"positive"}`, "{broken"} {
		if _, ok := parseAnalysis(in); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestFallbackAnalysis_TruncatesSummary(t *testing.T) {
	a := fallbackAnalysis(strings.Repeat("x", 300))
	if len(a.Summary) != 203 || !a.Degraded {
		t.Fatalf("unexpected fallback: %d %+v", len(a.Summary), a.Degraded)
	}

	a = fallbackAnalysis("a" + strings.Repeat("مرحبا ", 60))
	if !utf8.ValidString(a.Summary) {
		t.Fatalf("summary is not valid utf-8: %q", a.Summary)
	}
	if n := utf8.RuneCountInString(a.Summary); n != 203 || !strings.HasSuffix(a.Summary, "...") {
		t.Fatalf("expected 200 characters plus ellipsis, got %d runes", n)
	}

	if a := fallbackAnalysis("  شكرا  "); a.Summary != "شكرا" {
		t.Fatalf("short transcript must be kept whole, got %q", a.Summary)
	}
}

func TestParseReply(t *testing.T) {
	r, ok := parseReply(`{"text":" Thanks! ","tone":""}`)
	if !ok || r.Text != "Thanks!" || r.Tone != "professional" {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if _, ok := parseReply(`{"tone":"warm"}`); ok {
		t.Fatalf("object without text must be rejected")
	}
	if _, ok := parseReply("   "); ok {
		t.Fatalf("empty output must be rejected")
	}
}

func TestLoadPrompts_OverridesDepartment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	body := "departments:\n  Support: Focus on refunds.\n  legal: Flag contract terms.\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.For("support") != "Focus on refunds." || p.For("legal") != "Flag contract terms." {
		t.Fatalf("unexpected prompts: %+v", p.Departments)
	}
	if p.For("hr") != DefaultPrompts().Departments["hr"] || p.For("unknown") != defaultAnalysisInstructions {
		t.Fatalf("expected built-in prompts to remain")
	}
}

func TestLoadPrompts_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	_ = os.WriteFile(path, []byte("departments: [unclosed"), 0o600)
	if _, err := LoadPrompts(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
