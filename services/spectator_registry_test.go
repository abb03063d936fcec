package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryFixture struct {
	registry  *spectatorRegistry
	chat      ChatLog
	publisher *recordingPublisher
	clock     *fakeClock
}

func newRegistryFixture() *registryFixture {
	publisher := newRecordingPublisher()
	clock := newFakeClock()
	chat := NewChatLog(repositories.NewMemoryChatRepository(), nil, nil)
	registry := NewSpectatorRegistry(repositories.NewMemorySpectatorRepository(), chat, publisher, nil).(*spectatorRegistry)
	registry.now = clock.Now
	return &registryFixture{registry: registry, chat: chat, publisher: publisher, clock: clock}
}

func (f *registryFixture) start(t *testing.T, gameSessionID string, viewer models.Identity, matchID *string) *models.SpectatorSession {
	t.Helper()
	session, err := f.registry.StartSpectating(context.Background(), StartSpectatingInput{
		GameSessionID:     gameSessionID,
		TournamentMatchID: matchID,
		Viewer:            viewer,
	})
	require.NoError(t, err)
	return session
}

func TestStartSpectating(t *testing.T) {
	f := newRegistryFixture()
	alice := models.AuthenticatedViewer("alice")

	session := f.start(t, "g1", alice, ptr("m1"))
	require.NotNil(t, session)
	assert.True(t, session.IsActive())
	assert.Equal(t, alice, session.Viewer)
	assert.Equal(t, "m1", *session.TournamentMatchID)

	event := f.publisher.last()
	assert.Equal(t, realtime.EventSpectatorJoined, event.Kind)
	assert.Equal(t, "g1", event.GameSessionID)
	assert.Equal(t, 1, event.Payload["viewer_count"])
	assert.Equal(t, "m1", event.Payload["tournament_match_id"])
}

func TestStartSpectating_DuplicateReturnsNil(t *testing.T) {
	f := newRegistryFixture()
	alice := models.AuthenticatedViewer("alice")

	require.NotNil(t, f.start(t, "g1", alice, nil))
	assert.Nil(t, f.start(t, "g1", alice, nil))

	// тот же зритель в другой сессии - допустимо
	assert.NotNil(t, f.start(t, "g2", alice, nil))

	count, err := f.registry.ActiveCount(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.publisher.kinds(), 2)
}

func TestStartSpectating_GuestAndUserWithSameIDAreDistinct(t *testing.T) {
	f := newRegistryFixture()

	require.NotNil(t, f.start(t, "g1", models.AuthenticatedViewer("x"), nil))
	require.NotNil(t, f.start(t, "g1", models.GuestViewer("x"), nil))

	count, err := f.registry.ActiveCount(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStartSpectating_InvalidInput(t *testing.T) {
	f := newRegistryFixture()

	_, err := f.registry.StartSpectating(context.Background(), StartSpectatingInput{GameSessionID: "g1"})
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = f.registry.StartSpectating(context.Background(), StartSpectatingInput{Viewer: models.GuestViewer("g")})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestStopSpectating(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	alice := models.AuthenticatedViewer("alice")

	stopped, err := f.registry.StopSpectating(ctx, "g1", alice)
	require.NoError(t, err)
	assert.False(t, stopped)

	f.start(t, "g1", alice, nil)
	f.clock.Advance(90 * time.Second)

	stopped, err = f.registry.StopSpectating(ctx, "g1", alice)
	require.NoError(t, err)
	assert.True(t, stopped)

	stopped, err = f.registry.StopSpectating(ctx, "g1", alice)
	require.NoError(t, err)
	assert.False(t, stopped)

	active, err := f.registry.ActiveSpectators(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, active)

	event := f.publisher.last()
	assert.Equal(t, realtime.EventSpectatorLeft, event.Kind)
	assert.Equal(t, 0, event.Payload["viewer_count"])

	stats, err := f.registry.Statistics(ctx, models.ForGameSession("g1"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalViewers)
	assert.Equal(t, 0, stats.CurrentViewers)
	assert.Equal(t, 90*time.Second, stats.AverageViewDuration)
	assert.InDelta(t, 90.0, stats.AverageViewSeconds, 1e-9)
}

func TestStatistics_RejoinCountsAsNewViewer(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	alice := models.AuthenticatedViewer("alice")

	f.start(t, "g1", alice, nil)
	_, err := f.registry.StopSpectating(ctx, "g1", alice)
	require.NoError(t, err)
	require.NotNil(t, f.start(t, "g1", alice, nil))

	stats, err := f.registry.Statistics(ctx, models.ForGameSession("g1"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalViewers)
	assert.Equal(t, 1, stats.CurrentViewers)
}

func TestStatistics_PeakViewersSurvivesLeaves(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	viewers := []models.Identity{
		models.AuthenticatedViewer("a"),
		models.AuthenticatedViewer("b"),
		models.GuestViewer("c"),
	}
	for _, v := range viewers {
		f.start(t, "g1", v, ptr("m1"))
	}
	for _, v := range viewers[:2] {
		_, err := f.registry.StopSpectating(ctx, "g1", v)
		require.NoError(t, err)
	}

	stats, err := f.registry.Statistics(ctx, models.ForGameSession("g1"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PeakViewers)
	assert.Equal(t, 1, stats.CurrentViewers)
	assert.Equal(t, 3, stats.TotalViewers)

	matchStats, err := f.registry.Statistics(ctx, models.ForMatch("m1"))
	require.NoError(t, err)
	assert.Equal(t, 3, matchStats.PeakViewers)
	assert.Equal(t, 3, matchStats.TotalViewers)
}

func TestStatistics_CountsVisibleChat(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	for _, text := range []string{"gg", "wp"} {
		_, err := f.chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "u1", Message: text})
		require.NoError(t, err)
	}

	// без зрителей чат всё равно учитывается
	stats, err := f.registry.Statistics(ctx, models.ForGameSession("g1"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChatMessages)
	assert.Zero(t, stats.TotalViewers)
	assert.Zero(t, stats.AverageViewDuration)
}

func TestStatistics_UnknownKey(t *testing.T) {
	f := newRegistryFixture()
	_, err := f.registry.Statistics(context.Background(), models.StatsKey{Kind: "team", ID: "x"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestBroadcastGameState(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	f.start(t, "g1", models.GuestViewer("g"), nil)

	payload := map[string]interface{}{"score": 3}
	assert.True(t, f.registry.BroadcastGameState(ctx, "g1", payload))

	event := f.publisher.last()
	assert.Equal(t, realtime.EventGameStateUpdate, event.Kind)
	assert.Equal(t, 3, event.Payload["score"])
	assert.Equal(t, 1, event.Payload["viewerCount"])
	assert.NotContains(t, payload, "viewerCount")

	f.publisher.setConnected(false)
	sent := len(f.publisher.kinds())
	assert.False(t, f.registry.BroadcastGameState(ctx, "g1", payload))
	assert.Len(t, f.publisher.kinds(), sent)
}

func TestBroadcastGameState_NoPublisher(t *testing.T) {
	registry := NewSpectatorRegistry(repositories.NewMemorySpectatorRepository(), nil, nil, nil)
	assert.False(t, registry.BroadcastGameState(context.Background(), "g1", nil))
}

func TestStartSpectating_ConcurrentSameViewer(t *testing.T) {
	f := newRegistryFixture()
	alice := models.AuthenticatedViewer("alice")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := f.registry.StartSpectating(context.Background(), StartSpectatingInput{GameSessionID: "g1", Viewer: alice})
			if err == nil && session != nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
}

func TestCloseStaleSessions(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	f.start(t, "g1", models.AuthenticatedViewer("old"), nil)
	f.clock.Advance(2 * time.Hour)
	f.start(t, "g1", models.AuthenticatedViewer("fresh"), nil)

	closed, err := f.registry.CloseStaleSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	active, err := f.registry.ActiveSpectators(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].Viewer.ID())

	_, err = f.registry.CloseStaleSessions(ctx, 0)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

// hookedSpectatorRepo runs afterCreate right after a successful insert.
type hookedSpectatorRepo struct {
	repositories.SpectatorRepository
	afterCreate func(*models.SpectatorSession)
}

func (r *hookedSpectatorRepo) Create(ctx context.Context, s *models.SpectatorSession) error {
	if err := r.SpectatorRepository.Create(ctx, s); err != nil {
		return err
	}
	if r.afterCreate != nil {
		r.afterCreate(s)
	}
	return nil
}

func TestStartSpectating_MatchPeakWithLeaveInOtherGameSession(t *testing.T) {
	ctx := context.Background()
	repo := &hookedSpectatorRepo{SpectatorRepository: repositories.NewMemorySpectatorRepository()}
	registry := NewSpectatorRegistry(repo, nil, nil, nil)
	x := models.AuthenticatedViewer("x")
	y := models.AuthenticatedViewer("y")

	_, err := registry.StartSpectating(ctx, StartSpectatingInput{GameSessionID: "gs1", TournamentMatchID: ptr("match-1"), Viewer: x})
	require.NoError(t, err)

	// x уходит из соседней игровой сессии того же матча сразу после вставки y
	stopped := make(chan struct{})
	repo.afterCreate = func(s *models.SpectatorSession) {
		if s.Viewer != y {
			return
		}
		go func() {
			defer close(stopped)
			ok, err := registry.StopSpectating(ctx, "gs1", x)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
		select {
		case <-stopped:
		case <-time.After(50 * time.Millisecond):
		}
	}

	session, err := registry.StartSpectating(ctx, StartSpectatingInput{GameSessionID: "gs2", TournamentMatchID: ptr("match-1"), Viewer: y})
	require.NoError(t, err)
	require.NotNil(t, session)
	<-stopped

	stats, err := registry.Statistics(ctx, models.ForMatch("match-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PeakViewers)
	assert.Equal(t, 1, stats.CurrentViewers)
	assert.Equal(t, 2, stats.TotalViewers)
}

func TestStartSpectating_ConcurrentJoinsEmitOrderedCounts(t *testing.T) {
	f := newRegistryFixture()
	const viewers = 20

	var wg sync.WaitGroup
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.StartSpectating(context.Background(), StartSpectatingInput{
				GameSessionID: "g1",
				Viewer:        models.GuestViewer(string(rune('a' + i))),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.events, viewers)
	for i, event := range f.publisher.events {
		assert.Equal(t, i+1, event.Payload["viewer_count"])
	}
}
