package interview

import (
	"strings"
	"time"
)

// Type is the kind of interview being simulated.
type Type string

const (
	TypeBehavioral   Type = "behavioral"
	TypeTechnical    Type = "technical"
	TypeCase         Type = "case"
	TypeSystemDesign Type = "system_design"
	TypeGeneral      Type = "general"
)

// Types lists every supported interview type.
var Types = []Type{TypeBehavioral, TypeTechnical, TypeCase, TypeSystemDesign, TypeGeneral}

func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

// Label returns a human readable form, e.g. "system design".
func (t Type) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// HasBehavioralDimensions reports whether behavioral competencies are scored
// for this interview type.
func (t Type) HasBehavioralDimensions() bool {
	return t == TypeBehavioral || t == TypeGeneral
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// TurnKind distinguishes interviewer framing from scored questions.
type TurnKind string

const (
	KindOpening  TurnKind = "opening"
	KindQuestion TurnKind = "question"
	KindClosing  TurnKind = "closing"
	KindAnswer   TurnKind = "answer"
)

// CandidateProfile is the candidate's self-described background. List fields
// keep insertion order; skill sets are deduplicated on save.
type CandidateProfile struct {
	CandidateID         string     `json:"candidate_id"`
	Name                string     `json:"name,omitempty"`
	CurrentRole         string     `json:"current_role,omitempty"`
	CurrentCompany      string     `json:"current_company,omitempty"`
	ExperienceYears     float64    `json:"experience_years"`
	TargetRoles         []string   `json:"target_roles,omitempty"`
	TargetCompanies     []string   `json:"target_companies,omitempty"`
	TechnicalSkills     []string   `json:"technical_skills,omitempty"`
	SoftSkills          []string   `json:"soft_skills,omitempty"`
	Industries          []string   `json:"industries,omitempty"`
	FocusAreas          []string   `json:"focus_areas,omitempty"`
	Bio                 string     `json:"bio,omitempty"`
	ResumeText          string     `json:"resume_text,omitempty"`
	PreferredDifficulty Difficulty `json:"preferred_difficulty,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SessionConfig is supplied by the caller when an interview starts.
type SessionConfig struct {
	Type               Type       `json:"type"`
	Difficulty         Difficulty `json:"difficulty,omitempty"`
	RoleContext        string     `json:"role_context,omitempty"`
	CompanyContext     string     `json:"company_context,omitempty"`
	CustomInstructions string     `json:"custom_instructions,omitempty"`
	MaxQuestions       int        `json:"max_questions,omitempty"`
}

// SpeechMetrics are pre-computed by an external speech/video analyzer.
type SpeechMetrics struct {
	WordsPerMinute  float64  `json:"words_per_minute,omitempty"`
	FillerWordCount int      `json:"filler_word_count,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	AudioRef        string   `json:"audio_ref,omitempty"`
	EyeContact      *float64 `json:"eye_contact,omitempty"`
	BodyLanguage    *float64 `json:"body_language,omitempty"`
	Engagement      *float64 `json:"engagement,omitempty"`
}

// HasVideo reports whether any video-derived metric is present.
func (m *SpeechMetrics) HasVideo() bool {
	return m != nil && (m.EyeContact != nil || m.BodyLanguage != nil || m.Engagement != nil)
}

// TurnAnalysis is the Response Analyzer's output for one candidate answer.
type TurnAnalysis struct {
	WordCount       int       `json:"word_count"`
	CharCount       int       `json:"char_count"`
	EstimatedWPM    float64   `json:"estimated_wpm"`
	FillerWordCount int       `json:"filler_word_count"`
	SentimentScore  float64   `json:"sentiment_score"`
	StructureSignal int       `json:"structure_signal"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

type Turn struct {
	Seq       int            `json:"seq"`
	Role      Role           `json:"role"`
	Kind      TurnKind       `json:"kind"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Speech    *SpeechMetrics `json:"speech,omitempty"`
	Analysis  *TurnAnalysis  `json:"analysis,omitempty"`
}

// Session is the aggregate root of one interview run.
type Session struct {
	ID            string        `json:"id"`
	CandidateID   string        `json:"candidate_id"`
	Config        SessionConfig `json:"config"`
	Status        Status        `json:"status"`
	State         State         `json:"state"`
	QuestionCount int           `json:"question_count"`
	Turns         []Turn        `json:"turns"`
	Assessment    *Assessment   `json:"assessment,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// CandidateTurns returns the candidate's answers in conversation order.
func (s *Session) CandidateTurns() []Turn {
	var out []Turn
	for _, t := range s.Turns {
		if t.Role == RoleCandidate {
			out = append(out, t)
		}
	}
	return out
}

// QuestionsAnswered is the number of candidate answers recorded.
func (s *Session) QuestionsAnswered() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleCandidate {
			n++
		}
	}
	return n
}

// LastTurn returns the most recent turn, or nil for an empty session.
func (s *Session) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

func (s *Session) lastByRole(r Role) *Turn {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == r {
			return &s.Turns[i]
		}
	}
	return nil
}

// DurationSeconds is the wall-clock length of a finished session, 0 otherwise.
func (s *Session) DurationSeconds() float64 {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.CreatedAt).Seconds()
}

// AverageResponseSeconds is the mean delay between an interviewer turn and
// the candidate answer that follows it.
func (s *Session) AverageResponseSeconds() float64 {
	var total float64
	var n int
	for i := 1; i < len(s.Turns); i++ {
		prev, cur := s.Turns[i-1], s.Turns[i]
		if prev.Role == RoleInterviewer && cur.Role == RoleCandidate {
			total += cur.CreatedAt.Sub(prev.CreatedAt).Seconds()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// HasVideoMetrics reports whether any turn carries video-derived metrics.
func (s *Session) HasVideoMetrics() bool {
	for _, t := range s.Turns {
		if t.Speech.HasVideo() {
			return true
		}
	}
	return false
}

// Summary strips the turn history for list views.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:                s.ID,
		CandidateID:       s.CandidateID,
		Type:              s.Config.Type,
		Difficulty:        s.Config.Difficulty,
		Status:            s.Status,
		State:             s.State,
		QuestionCount:     s.QuestionCount,
		QuestionsAnswered: s.QuestionsAnswered(),
		CreatedAt:         s.CreatedAt,
		CompletedAt:       s.CompletedAt,
	}
	if s.Assessment != nil {
		overall := s.Assessment.Overall
		sum.OverallScore = &overall
	}
	return sum
}

// SessionSummary is the list-view projection of a Session.
type SessionSummary struct {
	ID                string     `json:"id"`
	CandidateID       string     `json:"candidate_id"`
	Type              Type       `json:"type"`
	Difficulty        Difficulty `json:"difficulty"`
	Status            Status     `json:"status"`
	State             State      `json:"state"`
	QuestionCount     int        `json:"question_count"`
	QuestionsAnswered int        `json:"questions_answered"`
	OverallScore      *float64   `json:"overall_score,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Snippet is one personalization passage returned by the context retriever.
type Snippet struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	SourceType string  `json:"source_type"`
}
