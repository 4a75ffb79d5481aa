// Package engine coordinates the character profile, per-user story progress,
// text generation and snapshot persistence.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/companion-engine/internal/metrics"
	"github.com/jwebster45206/companion-engine/internal/services"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/activity"
	"github.com/jwebster45206/companion-engine/pkg/chat"
	"github.com/jwebster45206/companion-engine/pkg/completion"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/prompts"
	"github.com/jwebster45206/companion-engine/pkg/state"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

const (
	defaultGenerationTimeout = 60 * time.Second
	persistTimeout           = 10 * time.Second
	restoreConcurrency       = 4
)

// Options configures an Engine. Storage and LLM are required.
type Options struct {
	Storage           storage.Storage
	LLM               services.LLMService
	Logger            *slog.Logger
	Evaluator         completion.Evaluator // default: keyword match
	Notifier          events.Notifier      // default: discard
	Requirements      activity.Requirements
	HistoryWindow     int // default: chat.DefaultHistoryWindow; negative disables history
	GenerationTimeout time.Duration
	Clock             func() time.Time
}

// Engine is the single owner of all narrative state. Create one per process
// with New; it is safe for concurrent use.
type Engine struct {
	mu           sync.RWMutex // guards profile and requirements
	profile      *profile.Profile
	requirements activity.Requirements

	store         *state.Store
	storage       storage.Storage
	llm           services.LLMService
	evaluator     completion.Evaluator
	notifier      events.Notifier
	logger        *slog.Logger
	historyWindow int
	genTimeout    time.Duration
	now           func() time.Time
}

// New creates an engine with no character profile.
func New(opts Options) *Engine {
	e := &Engine{
		store:         state.NewStore(),
		storage:       opts.Storage,
		llm:           opts.LLM,
		evaluator:     opts.Evaluator,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		requirements:  opts.Requirements,
		historyWindow: opts.HistoryWindow,
		genTimeout:    opts.GenerationTimeout,
		now:           opts.Clock,
	}
	if e.evaluator == nil {
		e.evaluator = completion.NewKeywordEvaluator()
	}
	if e.notifier == nil {
		e.notifier = events.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.requirements == nil {
		e.requirements = activity.DefaultRequirements()
	}
	if e.historyWindow == 0 {
		e.historyWindow = chat.DefaultHistoryWindow
	}
	if e.genTimeout <= 0 {
		e.genTimeout = defaultGenerationTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.store.SetClock(e.now)
	return e
}

// Profile returns the active profile or ErrUnknownCharacter.
func (e *Engine) Profile() (*profile.Profile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.profile == nil {
		return nil, ErrUnknownCharacter
	}
	return e.profile, nil
}

func (e *Engine) currentRequirements() activity.Requirements {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requirements
}

// SetupProfile validates a complete profile document (JSON or YAML) and
// installs it as the catalog. Existing user progress is reconciled against
// the new catalog.
func (e *Engine) SetupProfile(ctx context.Context, data []byte) (*profile.Profile, error) {
	p, err := profile.Parse(data)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	e.installProfile(p)
	e.logger.Info("Character profile set up", "name", p.Name, "storylines", len(p.Storylines))
	return p, nil
}

// UpdateProfile merges top-level field updates into the active profile. The
// merged profile is validated before it replaces the current one.
func (e *Engine) UpdateProfile(ctx context.Context, updates map[string]json.RawMessage) (*profile.Profile, error) {
	current, err := e.Profile()
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}

	merged, err := current.Merge(updates, e.now())
	if err != nil {
		return nil, err
	}

	e.installProfile(merged)
	e.logger.Info("Character profile updated", "name", merged.Name, "fields", len(updates))
	return merged, nil
}

func (e *Engine) installProfile(p *profile.Profile) {
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()

	e.store.Each(func(u *state.UserState) {
		e.logReconcile(u.UserID, u.Reconcile(p))
	})
}

func (e *Engine) logReconcile(userID string, report state.RestoreReport) {
	for _, id := range report.DroppedStorylines {
		e.logger.Warn("Dropped progress for storyline no longer in catalog", "user_id", userID, "storyline_id", id)
	}
	for _, id := range report.ClampedStorylines {
		e.logger.Warn("Clamped progress for shortened storyline", "user_id", userID, "storyline_id", id)
	}
	if report.ClearedCurrent {
		e.logger.Warn("Cleared current storyline no longer in catalog", "user_id", userID)
	}
}

func validateUser(userID string) error {
	if err := storage.ValidateTarget(userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// generate calls the LLM with the configured timeout. The caller must not
// hold any state lock.
func (e *Engine) generate(ctx context.Context, mode prompts.Mode, msgs []chat.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	provider := e.llm.Provider()
	start := time.Now()
	resp, err := e.llm.Chat(ctx, msgs)
	metrics.GenerationDuration.WithLabelValues(provider, string(mode)).Observe(time.Since(start).Seconds())

	if err == nil && (resp == nil || strings.TrimSpace(resp.Message) == "") {
		err = errors.New("empty response")
	}
	if err != nil {
		metrics.GenerationRequests.WithLabelValues(provider, string(mode), "error").Inc()
		return "", &GenerationError{Err: err}
	}
	metrics.GenerationRequests.WithLabelValues(provider, string(mode), "success").Inc()
	return resp.Message, nil
}

// persist writes the user's snapshot. It runs after the in-memory transition
// and is not cancelled by the caller's context.
func (e *Engine) persist(ctx context.Context, userID string, entry *state.Entry, p *profile.Profile) error {
	var data []byte
	var encErr error
	entry.View(func(u *state.UserState) {
		data, encErr = state.EncodeSnapshot(state.NewSnapshot(p, u, e.now()))
	})
	if encErr != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return &IOError{Op: "save", Target: userID, Err: encErr}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.storage.SaveSnapshot(ctx, userID, data); err != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return &IOError{Op: "save", Target: userID, Err: err}
	}
	metrics.SnapshotWrites.WithLabelValues("success").Inc()
	return nil
}

// persistBestEffort persists and reports failure as a flag.
func (e *Engine) persistBestEffort(ctx context.Context, userID string, entry *state.Entry, p *profile.Profile) bool {
	if err := e.persist(ctx, userID, entry, p); err != nil {
		e.logger.Error("Failed to persist progress", "user_id", userID, "error", err)
		return true
	}
	return false
}

// RestoreAll loads every persisted snapshot into memory. Individual failures
// are logged and that user starts from default state. When no profile has
// been set up, the first decoded snapshot's profile becomes the catalog.
func (e *Engine) RestoreAll(ctx context.Context) error {
	targets, err := e.storage.ListSnapshots(ctx)
	if err != nil {
		return &IOError{Op: "load", Target: "*", Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			if _, err := e.LoadSnapshot(gctx, target); err != nil {
				e.logger.Warn("Skipping snapshot at startup", "user_id", target, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Info("Snapshots restored", "count", len(targets))
	return nil
}
