// Package filler masks the variable latency of the agent/tool pipeline
// with short pre-synthesized "thinking" phrases so the user is never left
// in silence.
package filler

import (
	"context"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetdeck/fleetdeck/pkg/voice/tts"
)

// Stage escalates as a turn's latency grows: initial right away,
// continuation a few seconds in, patience when it drags on.
type Stage string

const (
	StageInitial      Stage = "initial"
	StageContinuation Stage = "continuation"
	StagePatience     Stage = "patience"
)

// CategoryGeneral is the fallback category consulted when a topic has no
// phrases of its own.
const CategoryGeneral = "general"

// Phrase is one catalogue entry. Audio is nil until warmed, and stays nil
// when synthesis is unavailable; callers then fall back to text-only.
type Phrase struct {
	Text     string
	Category string
	Stage    Stage
	Audio    []byte
}

// recentWindow is how many most-recent phrase texts are excluded from
// selection when enough candidates remain.
const recentWindow = 5

// Service is the process-wide filler catalogue. It is constructed and
// warmed explicitly and passed to sessions; selection state is the only
// mutable part and is safe for concurrent use.
type Service struct {
	synth  tts.Synthesizer
	logger *zap.Logger

	mu      sync.Mutex
	phrases []*Phrase
	recent  []string
	rng     *rand.Rand
	warmed  bool
}

// NewService creates a filler service over the default catalogue. synth
// may be nil; the service then serves text-only phrases.
func NewService(synth tts.Synthesizer, logger *zap.Logger) *Service {
	return NewServiceWithCatalogue(synth, defaultCatalogue(), logger)
}

// NewServiceWithCatalogue creates a filler service over a custom
// catalogue.
func NewServiceWithCatalogue(synth tts.Synthesizer, phrases []Phrase, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := make([]*Phrase, len(phrases))
	for i := range phrases {
		p := phrases[i]
		ps[i] = &p
	}
	return &Service{
		synth:   synth,
		logger:  logger,
		phrases: ps,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// Warm pre-synthesizes audio for every phrase. Failures degrade that
// phrase to text-only; Warm never fails the service as a whole.
func (s *Service) Warm(ctx context.Context) {
	s.mu.Lock()
	if s.warmed || s.synth == nil {
		s.mu.Unlock()
		return
	}
	s.warmed = true
	phrases := s.phrases
	s.mu.Unlock()

	for _, p := range phrases {
		if ctx.Err() != nil {
			return
		}
		audio, err := s.synth.Synthesize(ctx, p.Text)
		if err != nil {
			s.logger.Warn("filler synthesis failed, serving text-only",
				zap.String("text", p.Text), zap.Error(err))
			continue
		}
		s.mu.Lock()
		p.Audio = audio
		s.mu.Unlock()
	}
}

// Get selects a phrase for the category and stage, avoiding the last few
// used phrases when possible. Falls back to the general category, then to
// the initial stage, when no exact match exists.
func (s *Service) Get(category string, stage Stage) Phrase {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.matchLocked(category, stage)
	if len(candidates) == 0 {
		candidates = s.matchLocked(CategoryGeneral, stage)
	}
	if len(candidates) == 0 {
		candidates = s.matchLocked(category, StageInitial)
	}
	if len(candidates) == 0 {
		candidates = s.matchLocked(CategoryGeneral, StageInitial)
	}
	if len(candidates) == 0 {
		return Phrase{Text: "One moment.", Category: CategoryGeneral, Stage: StageInitial}
	}

	// Exclude recently used phrases when enough candidates remain.
	fresh := candidates[:0:0]
	for _, p := range candidates {
		if !s.recentlyUsedLocked(p.Text) {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) > 0 {
		candidates = fresh
	}

	pick := candidates[s.rng.Intn(len(candidates))]
	s.recent = append(s.recent, pick.Text)
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}
	return *pick
}

func (s *Service) matchLocked(category string, stage Stage) []*Phrase {
	var out []*Phrase
	for _, p := range s.phrases {
		if p.Category == category && p.Stage == stage {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) recentlyUsedLocked(text string) bool {
	for _, r := range s.recent {
		if r == text {
			return true
		}
	}
	return false
}
