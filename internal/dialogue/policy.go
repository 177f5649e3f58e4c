// Package dialogue generates the interviewer's utterances.
package dialogue

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/metrics"
)

// DefaultTemperature keeps questions varied between sessions.
const DefaultTemperature = 0.7

// DefaultClosing is used when the model signals completion without text.
const DefaultClosing = "Thank you, that concludes our interview. I'll put together your feedback now."

// Utterance is one interviewer reply.
type Utterance struct {
	Text string
	// Complete is set when the model emitted the completion marker.
	Complete bool
	// Templated is set when the text came from the question bank instead of
	// the model.
	Templated bool
}

// Policy produces openings and follow-up questions through an Engine.
type Policy struct {
	engine      engine.Engine
	composer    *composer.Composer
	model       string
	temperature float64
	bank        QuestionBank
	logger      *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

func WithTemperature(t float64) Option { return func(p *Policy) { p.temperature = t } }

func WithQuestionBank(b QuestionBank) Option {
	return func(p *Policy) {
		if len(b) > 0 {
			p.bank = b
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(p *Policy) { p.logger = l } }

// New creates a Policy that chats with model on e.
func New(e engine.Engine, c *composer.Composer, model string, opts ...Option) *Policy {
	p := &Policy{
		engine:      e,
		composer:    c,
		model:       model,
		temperature: DefaultTemperature,
		bank:        DefaultQuestionBank(),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Opening greets the candidate and asks the first question. When the model
// is unavailable a templated opening from the question bank is returned
// instead; Opening itself never fails unless ctx is cancelled.
// prof may be nil.
func (p *Policy) Opening(ctx context.Context, sessionID string, prof *interview.CandidateProfile, b composer.Brief) (Utterance, error) {
	u, err := p.generate(ctx, b, nil)
	if err == nil && !u.Complete {
		return u, nil
	}
	if ctx.Err() != nil {
		return Utterance{}, ctx.Err()
	}

	reason := "completion_marker"
	if err != nil {
		reason = "engine_error"
		p.logger.Warn("opening generation failed, using template", "session_id", sessionID, "error", err)
	}
	metrics.Fallbacks.WithLabelValues("templated_opening", reason).Inc()
	return Utterance{Text: p.TemplatedOpening(sessionID, prof, b.Config), Templated: true}, nil
}

// Next produces the interviewer's reply to the transcript so far.
func (p *Policy) Next(ctx context.Context, b composer.Brief, turns []interview.Turn) (Utterance, error) {
	u, err := p.generate(ctx, b, turns)
	if err != nil {
		return Utterance{}, classify("generate question", err)
	}
	return u, nil
}

func (p *Policy) generate(ctx context.Context, b composer.Brief, turns []interview.Turn) (Utterance, error) {
	reply, err := p.engine.Chat(ctx, engine.ChatRequest{
		Model:       p.model,
		Messages:    p.composer.Messages(b, turns),
		Temperature: engine.Temp(p.temperature),
	})
	if err != nil {
		return Utterance{}, err
	}
	return ParseReply(reply), nil
}

// ParseReply detects and strips the completion marker.
func ParseReply(reply string) Utterance {
	if !strings.Contains(reply, composer.CompleteToken) {
		return Utterance{Text: strings.TrimSpace(reply)}
	}
	text := strings.TrimSpace(strings.ReplaceAll(reply, composer.CompleteToken, ""))
	if text == "" {
		text = DefaultClosing
	}
	return Utterance{Text: text, Complete: true}
}

// TemplatedOpening builds a deterministic opening for the session from the
// question bank. The candidate's current role and experience are mentioned
// when the profile has them.
func (p *Policy) TemplatedOpening(sessionID string, prof *interview.CandidateProfile, cfg interview.SessionConfig) string {
	greeting := "Hello"
	var role string
	var years float64
	if prof != nil {
		if name := strings.TrimSpace(prof.Name); name != "" {
			greeting += " " + name
		}
		role = strings.TrimSpace(prof.CurrentRole)
		years = prof.ExperienceYears
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, and welcome to this %s interview practice", greeting, cfg.Type.Label())
	if cfg.RoleContext != "" {
		fmt.Fprintf(&sb, " for the %s role", cfg.RoleContext)
	}
	sb.WriteString(". ")
	switch {
	case role != "" && years > 0:
		fmt.Fprintf(&sb, "I see you're currently working as %s with %s of experience. ", withArticle(role), yearsPhrase(years))
	case role != "":
		fmt.Fprintf(&sb, "I see you're currently working as %s. ", withArticle(role))
	case years > 0:
		fmt.Fprintf(&sb, "I see you have %s of experience. ", yearsPhrase(years))
	}
	sb.WriteString("Let's get started. ")
	sb.WriteString(p.bank.Pick(cfg.Type, sessionID))
	return sb.String()
}

func withArticle(role string) string {
	if strings.ContainsRune("AEIOUaeiou", rune(role[0])) {
		return "an " + role
	}
	return "a " + role
}

func yearsPhrase(y float64) string {
	switch {
	case y == 1:
		return "1 year"
	case y == math.Trunc(y):
		return fmt.Sprintf("%d years", int(y))
	default:
		return strconv.FormatFloat(y, 'f', 1, 64) + " years"
	}
}

// classify maps engine failures onto the interview error taxonomy.
func classify(op string, err error) error {
	if engine.IsTransient(err) {
		return interview.Transient(op, err)
	}
	return interview.Unavailable(op, err)
}

// QuestionBank holds fallback questions per interview type.
type QuestionBank map[interview.Type][]string

// Pick selects a question for seed deterministically.
func (b QuestionBank) Pick(t interview.Type, seed string) string {
	qs := b[t]
	if len(qs) == 0 {
		qs = b[interview.TypeGeneral]
	}
	if len(qs) == 0 {
		return "Could you start by telling me about yourself and your recent work?"
	}
	h := fnv.New32a()
	h.Write([]byte(seed))
	return qs[int(h.Sum32()%uint32(len(qs)))]
}

// DefaultQuestionBank is used when the policy file supplies none.
func DefaultQuestionBank() QuestionBank {
	return QuestionBank{
		interview.TypeBehavioral: {
			"Tell me about a time you had to resolve a disagreement within your team.",
			"Describe a project that did not go as planned. What did you do?",
			"Tell me about a time you took ownership of a problem outside your responsibilities.",
		},
		interview.TypeTechnical: {
			"Walk me through the architecture of a system you built recently.",
			"How would you find and fix a memory leak in a long-running service?",
			"Explain how you would design a rate limiter for a public API.",
		},
		interview.TypeCase: {
			"A client's revenue dropped 20% last quarter. How would you investigate why?",
			"How would you estimate the market size for electric scooters in a mid-sized city?",
		},
		interview.TypeSystemDesign: {
			"Design a URL shortening service. Start with the requirements you would clarify.",
			"How would you design a notification system that serves millions of users?",
		},
		interview.TypeGeneral: {
			"Tell me about yourself and what you are looking for in your next role.",
			"What accomplishment from the last year are you most proud of?",
		},
	}
}
