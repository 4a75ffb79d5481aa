package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/companion-engine/internal/services"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/activity"
	"github.com/jwebster45206/companion-engine/pkg/chat"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

const testProfileJSON = `{
  "name": "Alice",
  "personality": "Cheerful and encouraging",
  "speaking_style": "Warm, uses short sentences",
  "background": "An apprentice mage who loves morning runs",
  "traits": ["Loyal", "Curious"],
  "voice_tone": "gentle",
  "storylines": [
    {
      "id": "s1",
      "title": "The Lost Amulet",
      "unlocked": true,
      "chapters": [
        {"title": "The Clue", "objective": "Find the first clue"},
        {"title": "The Vault", "objective": "Open the vault"}
      ]
    },
    {
      "id": "story_1",
      "title": "Forest Trail",
      "chapters": [{"title": "Into the Woods", "objective": "Reach the clearing"}]
    },
    {
      "id": "story_2",
      "title": "River Run",
      "chapters": [{"title": "The Ford", "objective": "Cross the river"}]
    }
  ]
}`

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testHarness struct {
	engine   *Engine
	llm      *services.MockLLMAPI
	storage  *storage.MockStorage
	notifier *recordingNotifier
}

func newHarness(t *testing.T, withProfile bool) *testHarness {
	t.Helper()
	h := &testHarness{
		llm:      services.NewMockLLMAPI(),
		storage:  storage.NewMockStorage(),
		notifier: &recordingNotifier{},
	}
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	h.engine = New(Options{
		Storage:  h.storage,
		LLM:      h.llm,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: h.notifier,
		Clock:    func() time.Time { return fixed },
	})
	if withProfile {
		_, err := h.engine.SetupProfile(context.Background(), []byte(testProfileJSON))
		require.NoError(t, err)
	}
	return h
}

func (h *testHarness) progress(t *testing.T, userID, storylineID string) state.StoryProgress {
	t.Helper()
	entry, ok := h.engine.store.Lookup(userID)
	require.True(t, ok)
	var out state.StoryProgress
	entry.View(func(u *state.UserState) {
		sp, ok := u.PeekProgress(storylineID)
		require.True(t, ok)
		out = sp.Clone()
	})
	return out
}

func TestEngine_NoProfile(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.engine.ListStorylines("u1")
	assert.ErrorIs(t, err, ErrUnknownCharacter)

	_, err = h.engine.Chat(context.Background(), "u1", "hello", true)
	assert.ErrorIs(t, err, ErrUnknownCharacter)

	_, err = h.engine.GetCharacterInfo("u1")
	assert.ErrorIs(t, err, ErrUnknownCharacter)
}

func TestSetupProfile_Invalid(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.engine.SetupProfile(context.Background(), []byte(`{"name": "Alice"}`))
	var cfgErr *profile.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = h.engine.Profile()
	assert.ErrorIs(t, err, ErrUnknownCharacter, "invalid profile must not be installed")
}

func TestEngine_InvalidUserID(t *testing.T) {
	h := newHarness(t, true)

	for _, id := range []string{"", "../etc", "a/b"} {
		_, err := h.engine.ListStorylines(id)
		assert.ErrorIs(t, err, ErrInvalidInput, "user id %q", id)
	}
}

func TestAdvanceStory_TwoChapterScenario(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	start, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, start.ChapterIndex)
	assert.Equal(t, 2, start.TotalChapters)
	assert.Contains(t, start.Narration, "The Clue")
	_, calls := h.llm.GetCalls()
	assert.Empty(t, calls, "opening narration does not call the model")

	h.llm.SetChatResponse("You found the clue!")
	res, err := h.engine.AdvanceStory(ctx, "u1", "I finished searching the room")
	require.NoError(t, err)
	assert.Equal(t, "You found the clue!", res.Response)
	assert.Equal(t, "The Lost Amulet", res.Storyline)
	assert.Equal(t, "The Clue", res.Chapter)
	assert.Equal(t, 0, res.ChapterIndex)
	assert.True(t, res.ChapterCompleted)
	assert.False(t, res.StorylineCompleted)
	assert.Equal(t, "1/2", labelFor(t, h, "u1", "s1"))

	res, err = h.engine.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChapterIndex)
	assert.True(t, res.ChapterCompleted)
	assert.True(t, res.StorylineCompleted)
	assert.Equal(t, "2/2", labelFor(t, h, "u1", "s1"))

	_, before := h.llm.GetCalls()
	res, err = h.engine.AdvanceStory(ctx, "u1", "done again")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.StorylineCompleted)
	assert.False(t, res.ChapterCompleted)
	_, after := h.llm.GetCalls()
	assert.Len(t, after, len(before), "completed storyline does not call the model")

	assert.Equal(t, []events.EventType{
		events.EventTypeChapterCompleted,
		events.EventTypeChapterCompleted,
		events.EventTypeStorylineCompleted,
	}, h.notifier.types())
}

func labelFor(t *testing.T, h *testHarness, userID, storylineID string) string {
	t.Helper()
	list, err := h.engine.ListStorylines(userID)
	require.NoError(t, err)
	for _, s := range list {
		if s.ID == storylineID {
			return s.Progress
		}
	}
	t.Fatalf("storyline %s not listed", storylineID)
	return ""
}

func TestAdvanceStory_NoKeyword(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	h.llm.SetChatResponse("The room is dark.")
	res, err := h.engine.AdvanceStory(ctx, "u1", "I look around")
	require.NoError(t, err)
	assert.Equal(t, "The room is dark.", res.Response)
	assert.False(t, res.ChapterCompleted)
	assert.Equal(t, 0, h.progress(t, "u1", "s1").CurrentChapter)
	assert.Empty(t, h.notifier.types())
}

func TestAdvanceStory_GenerationFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	before := h.progress(t, "u1", "s1")
	saves := h.storage.SaveCalls()

	h.llm.SetChatError(errors.New("connection refused"))
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.True(t, genErr.Retryable())
	assert.Equal(t, before, h.progress(t, "u1", "s1"))
	assert.Equal(t, saves, h.storage.SaveCalls(), "nothing is persisted")
}

func TestAdvanceStory_TimeoutLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, true)
	h.engine.genTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	before := h.progress(t, "u1", "s1")
	saves := h.storage.SaveCalls()

	h.llm.ChatFunc = func(ctx context.Context, _ []chat.ChatMessage) (*chat.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, genErr.Retryable())
	assert.Equal(t, before, h.progress(t, "u1", "s1"))
	assert.Equal(t, saves, h.storage.SaveCalls(), "nothing is persisted")
	assert.Empty(t, h.notifier.types())
}

func TestAdvanceStory_EmptyGenerationIsFailure(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	h.llm.SetChatResponse("   ")
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
	assert.Equal(t, 0, h.progress(t, "u1", "s1").CurrentChapter)
}

func TestAdvanceStory_NoActiveStoryline(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.engine.AdvanceStory(context.Background(), "u1", "done")
	assert.ErrorIs(t, err, ErrNoActiveStoryline)

	_, err = h.engine.Chat(context.Background(), "u1", "hi", true)
	require.NoError(t, err)
	_, err = h.engine.AdvanceStory(context.Background(), "u1", "done")
	assert.ErrorIs(t, err, ErrNoActiveStoryline)
}

func TestAdvanceStory_PersistenceFailureKeepsProgress(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	h.storage.SetSaveError(errors.New("disk full"))
	res, err := h.engine.AdvanceStory(ctx, "u1", "complete")
	require.NoError(t, err)
	assert.True(t, res.ChapterCompleted)
	assert.True(t, res.PersistenceFailed)
	assert.Equal(t, 1, h.progress(t, "u1", "s1").CurrentChapter)
}

func TestStartStoryline_Errors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrUnknownStoryline)

	_, err = h.engine.StartStoryline(ctx, "u1", "story_1")
	assert.ErrorIs(t, err, ErrLockedStoryline)

	_, ok := h.engine.store.Lookup("u1")
	assert.False(t, ok, "rejected start must not create user state")
}

func TestStartStoryline_SwitchKeepsProgress(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)

	_, err = h.engine.MarkUnlocked(ctx, "u1", "story_1")
	require.NoError(t, err)
	_, err = h.engine.StartStoryline(ctx, "u1", "story_1")
	require.NoError(t, err)

	start, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, start.ChapterIndex, "resumes at the current chapter")
	assert.Contains(t, start.Narration, "The Vault")
}

func TestMarkUnlocked_Idempotent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	changed, err := h.engine.MarkUnlocked(ctx, "u1", "story_2")
	require.NoError(t, err)
	assert.True(t, changed)
	once := h.progress(t, "u1", "story_2")

	changed, err = h.engine.MarkUnlocked(ctx, "u1", "story_2")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, once, h.progress(t, "u1", "story_2"))

	_, err = h.engine.MarkUnlocked(ctx, "u1", "nope")
	assert.ErrorIs(t, err, ErrUnknownStoryline)

	_, err = h.engine.StartStoryline(ctx, "u1", "story_2")
	assert.NoError(t, err)
}

func TestSnapshot_RoundTripThroughStorage(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	_, err = h.engine.AdvanceStory(ctx, "u1", "finish")
	require.NoError(t, err)
	require.NoError(t, h.engine.SaveSnapshot(ctx, "u1"))

	// A fresh engine with no profile adopts the snapshot's.
	fresh := New(Options{
		Storage: h.storage,
		LLM:     h.llm,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	report, err := fresh.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, report.DroppedStorylines)

	p, err := fresh.Profile()
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, json.RawMessage(`"gentle"`), p.Extra["voice_tone"])

	list, err := fresh.ListStorylines("u1")
	require.NoError(t, err)
	assert.Equal(t, "1/2", list[0].Progress)
	assert.True(t, list[0].Current)

	res, err := fresh.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChapterIndex)
}

func TestLoadSnapshot_Errors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.LoadSnapshot(ctx, "nobody")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	h.storage.PutRaw("u1", []byte(`{"name": "Alice"`))
	_, err = h.engine.LoadSnapshot(ctx, "u1")
	assert.True(t, state.IsCorrupt(err))

	_, ok := h.engine.store.Lookup("u1")
	assert.False(t, ok, "corrupt snapshot leaves state untouched")
}

func TestLoadSnapshot_KeepsHistory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NoError(t, h.engine.SaveSnapshot(ctx, "u1"))

	_, err = h.engine.Chat(ctx, "u1", "hello", true)
	require.NoError(t, err)

	_, err = h.engine.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)

	export, err := h.engine.ExportHistory("u1")
	require.NoError(t, err)
	assert.Len(t, export.Messages, 2)
}

func TestRestoreAll(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2"} {
		_, err := h.engine.StartStoryline(ctx, u, "s1")
		require.NoError(t, err)
	}
	h.storage.PutRaw("broken", []byte("not json"))

	fresh := New(Options{
		Storage: h.storage,
		LLM:     h.llm,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, fresh.RestoreAll(ctx))

	assert.Equal(t, []string{"u1", "u2"}, fresh.store.Users())
	info, err := fresh.GetCharacterInfo("u2")
	require.NoError(t, err)
	assert.Equal(t, "The Lost Amulet", info.CurrentStoryline)
}

func TestChat_History(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.llm.SetChatResponse("Hi there!")
	reply, err := h.engine.Chat(ctx, "u1", "hello", true)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)

	_, err = h.engine.Chat(ctx, "u1", "how are you?", true)
	require.NoError(t, err)

	_, calls := h.llm.GetCalls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.Len(t, second, 4, "system + one exchange + user")
	assert.Equal(t, chat.ChatRoleSystem, second[0].Role)
	assert.Equal(t, "hello", second[1].Content)
	assert.Equal(t, "how are you?", second[3].Content)

	_, err = h.engine.Chat(ctx, "u1", "off the record", false)
	require.NoError(t, err)

	h.llm.SetChatError(errors.New("timeout"))
	_, err = h.engine.Chat(ctx, "u1", "lost", true)
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)

	info, err := h.engine.GetCharacterInfo("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.ChatCount)
	assert.Equal(t, 3, info.AvailableStorylines)

	require.NoError(t, h.engine.ClearHistory("u1"))
	export, err := h.engine.ExportHistory("u1")
	require.NoError(t, err)
	assert.Empty(t, export.Messages)
	assert.Equal(t, "Alice", export.Character)
}

func TestChat_HistoryWindow(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	msgs := make([]chat.ChatMessage, 0, 30)
	for i := 0; i < 15; i++ {
		msgs = append(msgs,
			chat.ChatMessage{Role: chat.ChatRoleUser, Content: "q"},
			chat.ChatMessage{Role: chat.ChatRoleAgent, Content: "a"},
		)
	}
	require.NoError(t, h.engine.ImportHistory("u1", &chat.HistoryExport{Messages: msgs}))

	_, err := h.engine.Chat(ctx, "u1", "latest", true)
	require.NoError(t, err)

	_, calls := h.llm.GetCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Messages, chat.DefaultHistoryWindow+2)

	export, err := h.engine.ExportHistory("u1")
	require.NoError(t, err)
	assert.Len(t, export.Messages, 32, "full history is retained")
}

func TestImportHistory_RejectsUnknownRole(t *testing.T) {
	h := newHarness(t, true)
	err := h.engine.ImportHistory("u1", &chat.HistoryExport{
		Messages: []chat.ChatMessage{{Role: "narrator", Content: "x"}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClearHistory_KeepsProgress(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)

	require.NoError(t, h.engine.ClearHistory("u1"))
	assert.Equal(t, 1, h.progress(t, "u1", "s1").CurrentChapter)
}

func TestRecordWorkout(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	res, err := h.engine.RecordWorkout(ctx, "u1", activityWorkout("running", 1000, 300))
	require.NoError(t, err)
	assert.Equal(t, []string{"story_1"}, res.NewlyUnlocked)
	assert.Equal(t, 1, res.TotalProgress.Workouts)

	res, err = h.engine.RecordWorkout(ctx, "u1", activityWorkout("running", 1000, 300))
	require.NoError(t, err)
	assert.Empty(t, res.NewlyUnlocked, "already unlocked storylines are skipped")
	assert.Equal(t, float64(2000), res.TotalProgress.TotalDistance)

	res, err = h.engine.RecordWorkout(ctx, "u1", activityWorkout("cycling", 5000, 5000))
	require.NoError(t, err)
	assert.Empty(t, res.NewlyUnlocked)

	content, err := h.engine.AvailableContent("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"story_1"}, content.UnlockedStories)
	assert.Equal(t, []string{"story_2", "story_3", "story_4"}, content.LockedStories)

	res, err = h.engine.RecordWorkout(ctx, "u1", activityWorkout("running", 0, 1300))
	require.NoError(t, err)
	assert.Equal(t, []string{"story_2"}, res.NewlyUnlocked, "ids missing from the catalog are ignored")

	_, err = h.engine.RecordWorkout(ctx, "u1", activityWorkout("", 1, 1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateProfile_ReconcilesProgress(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	updated, err := h.engine.UpdateProfile(ctx, map[string]json.RawMessage{
		"personality": json.RawMessage(`"Calm"`),
		"storylines":  json.RawMessage(`[{"id": "story_1", "title": "Forest Trail", "chapters": [{"title": "Into the Woods"}]}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Calm", updated.Personality)
	assert.Equal(t, "Alice", updated.Name)

	entry, ok := h.engine.store.Lookup("u1")
	require.True(t, ok)
	entry.View(func(u *state.UserState) {
		_, ok := u.PeekProgress("s1")
		assert.False(t, ok)
		assert.Empty(t, u.CurrentStorylineID)
	})

	_, err = h.engine.UpdateProfile(ctx, map[string]json.RawMessage{"name": json.RawMessage(`""`)})
	var cfgErr *profile.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExportTranscript(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	_, err = h.engine.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)

	tr, err := h.engine.ExportTranscript("u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "The Lost Amulet", tr.Storyline)
	assert.Equal(t, "1/2", tr.Progress)
	assert.Len(t, tr.Chapters, 2)

	_, err = h.engine.ExportTranscript("u1", "missing")
	assert.ErrorIs(t, err, ErrUnknownStoryline)
}

func TestResetUser(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NoError(t, h.engine.ResetUser(ctx, "u1"))

	_, ok := h.engine.store.Lookup("u1")
	assert.False(t, ok)
	_, err = h.storage.LoadSnapshot(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdvanceStory_ConcurrentTurnsSerialize(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	const workers = 20
	results := make(chan *AdvanceResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.AdvanceStory(ctx, "u1", "done")
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	completed := 0
	for res := range results {
		if res.ChapterCompleted {
			completed++
		}
	}
	assert.Equal(t, 2, completed, "each chapter completes exactly once")

	p := h.progress(t, "u1", "s1")
	assert.Equal(t, 2, p.CurrentChapter)
	assert.Equal(t, []int{0, 1}, p.CompletedChapters)
}

func TestAdvanceStory_GenerationDoesNotBlockReads(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	started := make(chan struct{})
	unblock := make(chan struct{})
	h.llm.ChatFunc = func(ctx context.Context, _ []chat.ChatMessage) (*chat.ChatResponse, error) {
		close(started)
		<-unblock
		return &chat.ChatResponse{Message: "slow narration"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.AdvanceStory(ctx, "u1", "done")
		done <- err
	}()

	<-started
	list, err := h.engine.ListStorylines("u1")
	require.NoError(t, err)
	assert.Equal(t, "0/2", list[0].Progress)

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, "1/2", labelFor(t, h, "u1", "s1"))
}

func TestAdvanceStory_CatalogChangeDuringGeneration(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)
	saves := h.storage.SaveCalls()

	started := make(chan struct{})
	unblock := make(chan struct{})
	h.llm.ChatFunc = func(ctx context.Context, _ []chat.ChatMessage) (*chat.ChatResponse, error) {
		close(started)
		<-unblock
		return &chat.ChatResponse{Message: "slow narration"}, nil
	}

	type outcome struct {
		res *AdvanceResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.engine.AdvanceStory(ctx, "u1", "done")
		done <- outcome{res, err}
	}()

	<-started
	_, err = h.engine.UpdateProfile(ctx, map[string]json.RawMessage{
		"storylines": json.RawMessage(`[{"id": "story_1", "title": "Forest Trail", "chapters": [{"title": "Into the Woods"}]}]`),
	})
	require.NoError(t, err)

	close(unblock)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "slow narration", out.res.Response)
	assert.False(t, out.res.ChapterCompleted)

	entry, ok := h.engine.store.Lookup("u1")
	require.True(t, ok)
	entry.View(func(u *state.UserState) {
		_, ok := u.PeekProgress("s1")
		assert.False(t, ok, "progress must not be recreated for a removed storyline")
		assert.Empty(t, u.CurrentStorylineID)
	})
	assert.Equal(t, saves, h.storage.SaveCalls(), "no stale snapshot is written")
	assert.Empty(t, h.notifier.types())
}

func TestResetUser_WaitsForTurnInProgress(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.StartStoryline(ctx, "u1", "s1")
	require.NoError(t, err)

	started := make(chan struct{})
	unblock := make(chan struct{})
	h.llm.ChatFunc = func(ctx context.Context, _ []chat.ChatMessage) (*chat.ChatResponse, error) {
		close(started)
		<-unblock
		return &chat.ChatResponse{Message: "slow narration"}, nil
	}

	advanced := make(chan error, 1)
	go func() {
		_, err := h.engine.AdvanceStory(ctx, "u1", "done")
		advanced <- err
	}()
	<-started

	reset := make(chan error, 1)
	go func() {
		reset <- h.engine.ResetUser(ctx, "u1")
	}()

	select {
	case err := <-reset:
		t.Fatalf("reset finished while a turn was in progress: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-advanced)
	require.NoError(t, <-reset)

	_, ok := h.engine.store.Lookup("u1")
	assert.False(t, ok)
	_, err = h.storage.LoadSnapshot(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "the finished turn must not resurrect the snapshot")
}

func TestUsersAreIndependent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2"} {
		_, err := h.engine.StartStoryline(ctx, u, "s1")
		require.NoError(t, err)
	}
	_, err := h.engine.AdvanceStory(ctx, "u1", "done")
	require.NoError(t, err)

	assert.Equal(t, "1/2", labelFor(t, h, "u1", "s1"))
	assert.Equal(t, "0/2", labelFor(t, h, "u2", "s1"))
}

func activityWorkout(kind string, distance, duration float64) activity.Workout {
	return activity.Workout{Type: kind, Distance: distance, Duration: duration}
}
