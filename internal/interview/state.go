package interview

import "strings"

// State is the orchestrator's position in the interview workflow.
type State string

const (
	StatePreparing      State = "PREPARING"
	StateAsking         State = "ASKING"
	StateAwaitingAnswer State = "AWAITING_ANSWER"
	StateAnalyzing      State = "ANALYZING"
	StateCompleting     State = "COMPLETING"
	StateDone           State = "DONE"
)

var transitions = map[State][]State{
	StatePreparing:      {StateAsking},
	StateAsking:         {StateAwaitingAnswer, StateCompleting},
	StateAwaitingAnswer: {StateAnalyzing, StateDone},
	StateAnalyzing:      {StateAsking, StateCompleting, StateDone},
	StateCompleting:     {StateDone},
	StateDone:           {},
}

// CanTransition reports whether the workflow permits moving from one state
// to the next.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Action is the outcome of DecideNextAction.
type Action string

const (
	ActionAskNext  Action = "ASK_NEXT"
	ActionComplete Action = "COMPLETE"
)

// DefaultMaxQuestions bounds an interview when the caller does not.
const DefaultMaxQuestions = 5

// DefaultEndPhrases are candidate utterances that end the interview.
var DefaultEndPhrases = []string{
	"end interview",
	"end the interview",
	"stop the interview",
	"i'm done",
	"that's all for today",
}

// TerminationPolicy configures DecideNextAction.
type TerminationPolicy struct {
	EndPhrases []string
}

// DecideNextAction decides whether the interview continues after the latest
// turn. It has no side effects and consults nothing outside the session.
func DecideNextAction(s Session, p TerminationPolicy) Action {
	if s.Status != StatusActive {
		return ActionComplete
	}
	if last := s.lastByRole(RoleInterviewer); last != nil && last.Kind == KindClosing {
		return ActionComplete
	}
	if last := s.lastByRole(RoleCandidate); last != nil && RequestsEnd(last.Content, p.EndPhrases) {
		return ActionComplete
	}
	limit := s.Config.MaxQuestions
	if limit <= 0 {
		limit = DefaultMaxQuestions
	}
	if s.QuestionsAnswered() >= limit {
		return ActionComplete
	}
	return ActionAskNext
}

// RequestsEnd reports whether text contains any of the end phrases.
func RequestsEnd(text string, phrases []string) bool {
	if len(phrases) == 0 {
		phrases = DefaultEndPhrases
	}
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
