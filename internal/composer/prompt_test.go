package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
)

func brief() Brief {
	return Brief{
		Config: interview.SessionConfig{
			Type:        interview.TypeBehavioral,
			Difficulty:  interview.DifficultyHard,
			RoleContext: "Senior Backend Engineer",
		},
		MaxQuestions: 5,
	}
}

func TestSystemPrompt_Basics(t *testing.T) {
	got := New(0).SystemPrompt(brief())

	for _, want := range []string{"behavioral interview", "hard difficulty", "Senior Backend Engineer", CompleteToken, "0 of at most 5"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "[Relevant Background]") {
		t.Error("background header present without snippets")
	}
}

func TestSystemPrompt_DefaultsDifficulty(t *testing.T) {
	b := brief()
	b.Config.Difficulty = ""
	if got := New(0).SystemPrompt(b); !strings.Contains(got, "medium difficulty") {
		t.Errorf("expected medium default:\n%s", got)
	}
}

func TestSystemPrompt_ProfileAndSnippets(t *testing.T) {
	b := brief()
	b.ProfileSummary = "[Candidate Profile]\nCurrent role: SRE"
	b.Snippets = []interview.Snippet{
		{Text: "low score snippet", Score: 0.1, SourceType: "resume"},
		{Text: "high score snippet", Score: 0.9, SourceType: "profile"},
	}

	got := New(0).SystemPrompt(b)
	if !strings.Contains(got, "Current role: SRE") {
		t.Error("profile summary missing")
	}
	hi := strings.Index(got, "high score snippet")
	lo := strings.Index(got, "low score snippet")
	if hi < 0 || lo < 0 || hi > lo {
		t.Errorf("snippets not ordered by score:\n%s", got)
	}
}

func TestSystemPrompt_TokenBudgetDropsSnippets(t *testing.T) {
	b := brief()
	b.Snippets = []interview.Snippet{
		{Text: strings.Repeat("x", 800), Score: 0.9, SourceType: "resume"},
		{Text: "small", Score: 0.5, SourceType: "profile"},
	}

	got := New(50).SystemPrompt(b)
	if strings.Contains(got, strings.Repeat("x", 800)) {
		t.Error("oversized snippet should be dropped")
	}
	if !strings.Contains(got, "small") {
		t.Error("small snippet should still fit")
	}
}

func TestSystemPrompt_CustomInstructions(t *testing.T) {
	b := brief()
	b.Config.CustomInstructions = "Focus on incident response."
	if got := New(0).SystemPrompt(b); !strings.Contains(got, "Focus on incident response.") {
		t.Error("custom instructions missing")
	}
}

func TestMessages(t *testing.T) {
	c := New(0)

	opening := c.Messages(brief(), nil)
	if len(opening) != 2 || opening[0].Role != engine.RoleSystem || opening[1].Role != engine.RoleUser {
		t.Fatalf("opening messages: %+v", opening)
	}

	turns := []interview.Turn{
		{Seq: 0, Role: interview.RoleInterviewer, Kind: interview.KindOpening, Content: "Hi, tell me about a conflict."},
		{Seq: 1, Role: interview.RoleCandidate, Kind: interview.KindAnswer, Content: "Once, on my team..."},
	}
	msgs := c.Messages(brief(), turns)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != engine.RoleAssistant || msgs[2].Role != engine.RoleUser {
		t.Errorf("roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript([]interview.Turn{
		{Role: interview.RoleInterviewer, Content: "Question?"},
		{Role: interview.RoleCandidate, Content: " Answer. "},
	})
	want := "Interviewer: Question?\nCandidate: Answer.\n"
	if got != want {
		t.Errorf("Transcript = %q, want %q", got, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
