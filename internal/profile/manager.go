package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileField(ctx context.Context, candidateID, key, value string) error
	ReplaceProfileFields(ctx context.Context, candidateID string, fields map[string]string) error
	GetProfileFields(ctx context.Context, candidateID string) (map[string]string, time.Time, error)
}

// ChangeNotifier is told when a candidate's profile changes so the context
// index can be rebuilt.
type ChangeNotifier interface {
	ProfileChanged(ctx context.Context, candidateID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  interview.CandidateProfile
	cachedAt time.Time
}

// Manager provides cached, validated access to candidate profiles.
type Manager struct {
	store    ProfileStore
	notifier ChangeNotifier
	clock    Clock
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL. notifier may be nil.
func NewManager(store ProfileStore, notifier ChangeNotifier) *Manager {
	return NewManagerWithClock(store, notifier, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, notifier ChangeNotifier, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		clock:    clock,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
	}
}

// Get returns the candidate's profile. A candidate without a stored profile
// yields a NotFound error wrapping interview.ErrProfileNotFound.
func (m *Manager) Get(ctx context.Context, candidateID string) (interview.CandidateProfile, error) {
	m.mu.RLock()
	if e, ok := m.cache[candidateID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopy(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[candidateID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopy(e.profile), nil
	}

	kv, updated, err := m.store.GetProfileFields(ctx, candidateID)
	if errors.Is(err, storage.ErrNotFound) {
		return interview.CandidateProfile{}, interview.NotFound("get profile", fmt.Errorf("%w: %s", interview.ErrProfileNotFound, candidateID))
	}
	if err != nil {
		return interview.CandidateProfile{}, fmt.Errorf("loading profile %s: %w", candidateID, err)
	}

	p := build(candidateID, kv)
	p.UpdatedAt = updated
	m.cache[candidateID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopy(p), nil
}

// Save validates and replaces a candidate's whole profile.
func (m *Manager) Save(ctx context.Context, p interview.CandidateProfile) (interview.CandidateProfile, error) {
	p = Normalize(p)
	if err := Validate(p); err != nil {
		return interview.CandidateProfile{}, err
	}
	kv, err := flatten(p)
	if err != nil {
		return interview.CandidateProfile{}, err
	}

	m.mu.Lock()
	err = m.store.ReplaceProfileFields(ctx, p.CandidateID, kv)
	delete(m.cache, p.CandidateID)
	m.mu.Unlock()
	if err != nil {
		return interview.CandidateProfile{}, fmt.Errorf("saving profile %s: %w", p.CandidateID, err)
	}

	m.notify(ctx, p.CandidateID)
	return m.Get(ctx, p.CandidateID)
}

// SetField parses, validates and persists a single field.
func (m *Manager) SetField(ctx context.Context, candidateID, key, raw string) error {
	v, err := parseValue(key, raw)
	if err != nil {
		return interview.Validation("set profile field", "%v", err)
	}

	current, err := m.Get(ctx, candidateID)
	if err != nil && interview.KindOf(err) != interview.KindNotFound {
		return err
	}
	current.CandidateID = candidateID
	fields[key].set(&current, v)
	current = Normalize(current)
	if err := Validate(current); err != nil {
		return err
	}
	kv, err := flatten(current)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if stored, ok := kv[key]; ok {
		err = m.store.SetProfileField(ctx, candidateID, key, stored)
	} else {
		err = m.store.ReplaceProfileFields(ctx, candidateID, kv)
	}
	delete(m.cache, candidateID)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("setting profile field %q: %w", key, err)
	}

	m.notify(ctx, candidateID)
	return nil
}

func (m *Manager) notify(ctx context.Context, candidateID string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.ProfileChanged(ctx, candidateID); err != nil {
		slog.Warn("profile change notification failed", "candidate_id", candidateID, "error", err)
	}
}

// Summary returns the prompt-ready profile block for a candidate.
func (m *Manager) Summary(ctx context.Context, candidateID string) (string, error) {
	p, err := m.Get(ctx, candidateID)
	if err != nil {
		return "", err
	}
	return Summarize(p), nil
}

// Validate enforces the profile invariants.
func Validate(p interview.CandidateProfile) error {
	if strings.TrimSpace(p.CandidateID) == "" {
		return interview.Validation("validate profile", "candidate id is required")
	}
	if p.ExperienceYears < 0 {
		return interview.Validation("validate profile", "experience years must be >= 0, got %v", p.ExperienceYears)
	}
	if p.PreferredDifficulty != "" && !p.PreferredDifficulty.Valid() {
		return interview.Validation("validate profile", "unknown difficulty %q", p.PreferredDifficulty)
	}
	return nil
}

// Normalize trims list entries and deduplicates the skill sets
// case-insensitively, keeping the first spelling seen.
func Normalize(p interview.CandidateProfile) interview.CandidateProfile {
	p.TargetRoles = trimList(p.TargetRoles)
	p.TargetCompanies = trimList(p.TargetCompanies)
	p.Industries = trimList(p.Industries)
	p.FocusAreas = trimList(p.FocusAreas)
	p.TechnicalSkills = dedupe(p.TechnicalSkills)
	p.SoftSkills = dedupe(p.SoftSkills)
	return p
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range trimList(in) {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

const maxBioChars = 600

// Summarize renders the [Candidate Profile] block. Empty fields are omitted.
func Summarize(p interview.CandidateProfile) string {
	var parts []string

	if p.Name != "" {
		parts = append(parts, "Name: "+p.Name)
	}
	switch {
	case p.CurrentRole != "" && p.CurrentCompany != "":
		parts = append(parts, fmt.Sprintf("Current role: %s at %s", p.CurrentRole, p.CurrentCompany))
	case p.CurrentRole != "":
		parts = append(parts, "Current role: "+p.CurrentRole)
	case p.CurrentCompany != "":
		parts = append(parts, "Current company: "+p.CurrentCompany)
	}
	if p.ExperienceYears > 0 {
		parts = append(parts, fmt.Sprintf("Experience: %s years", formatYears(p.ExperienceYears)))
	}
	if len(p.TargetRoles) > 0 {
		parts = append(parts, "Target roles: "+strings.Join(p.TargetRoles, ", "))
	}
	if len(p.TargetCompanies) > 0 {
		parts = append(parts, "Target companies: "+strings.Join(p.TargetCompanies, ", "))
	}
	if len(p.TechnicalSkills) > 0 {
		parts = append(parts, "Technical skills: "+strings.Join(sorted(p.TechnicalSkills), ", "))
	}
	if len(p.SoftSkills) > 0 {
		parts = append(parts, "Soft skills: "+strings.Join(sorted(p.SoftSkills), ", "))
	}
	if len(p.Industries) > 0 {
		parts = append(parts, "Industries: "+strings.Join(p.Industries, ", "))
	}
	if len(p.FocusAreas) > 0 {
		parts = append(parts, "Focus areas: "+strings.Join(p.FocusAreas, ", "))
	}
	if p.Bio != "" {
		parts = append(parts, "Bio: "+truncate(p.Bio, maxBioChars))
	}

	if len(parts) == 0 {
		return "[Candidate Profile]\nNo profile information provided."
	}
	return truncate("[Candidate Profile]\n"+strings.Join(parts, "\n"), maxSummaryChars)
}

func formatYears(y float64) string {
	if y == float64(int(y)) {
		return fmt.Sprintf("%d", int(y))
	}
	return fmt.Sprintf("%.1f", y)
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// truncate cuts s to at most limit bytes at a word boundary without
// splitting a multi-byte character.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], " "); idx > 0 {
		return s[:idx]
	}
	return s[:end]
}

func deepCopy(p interview.CandidateProfile) interview.CandidateProfile {
	cp := p
	cp.TargetRoles = copyList(p.TargetRoles)
	cp.TargetCompanies = copyList(p.TargetCompanies)
	cp.TechnicalSkills = copyList(p.TechnicalSkills)
	cp.SoftSkills = copyList(p.SoftSkills)
	cp.Industries = copyList(p.Industries)
	cp.FocusAreas = copyList(p.FocusAreas)
	return cp
}

func copyList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
