package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/session"
	"github.com/ashureev/hostbot/internal/store"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	last  []domain.Turn
	reply string
	err   error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeCompleter) Complete(_ context.Context, turns []domain.Turn, _ float64) (domain.Turn, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = turns
	if f.err != nil {
		return domain.Turn{}, f.err
	}
	return domain.Turn{Role: domain.RoleAssistant, Content: f.reply}, nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, completer llm.Completer, policy InvalidationPolicy) (*Service, store.Repository, *session.Store) {
	t.Helper()
	repo, err := store.NewSQLite(store.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sessions := session.NewStore(20)
	return NewService(repo, sessions, completer, Config{Temperature: 0.7, Policy: policy}), repo, sessions
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool { return &b }

func fjordview(id string) *domain.Profile {
	return &domain.Profile{
		ID:     id,
		Name:   "Fjordview",
		Locale: "no",
		City:   "Tromsø",
		Knowledge: domain.Knowledge{Facts: &domain.Facts{
			Parking: &domain.Parking{Available: boolPtr(true), Instructions: strPtr("Gate 12")},
		}},
		UpdatedAt: time.Now().UTC(),
	}
}

func TestReply_EndToEnd(t *testing.T) {
	fc := &fakeCompleter{reply: "Du kan parkere ved Gate 12."}
	svc, repo, sessions := newTestService(t, fc, InvalidateProfile)
	require.NoError(t, repo.PutProfile(context.Background(), fjordview("default")))

	reply, err := svc.Reply(context.Background(), "user1", "default", "Hvor kan jeg parkere?")
	require.NoError(t, err)
	assert.Equal(t, "Du kan parkere ved Gate 12.", reply)

	turns, ok := sessions.Transcript("user1")
	require.True(t, ok)
	require.Len(t, turns, 3)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Content, "Gate 12")
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "Hvor kan jeg parkere?"}, turns[1])
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "Du kan parkere ved Gate 12."}, turns[2])

	// The model saw the system turn and the new user turn.
	require.Len(t, fc.last, 2)
	assert.Equal(t, domain.RoleUser, fc.last[1].Role)
}

func TestReply_UnconfiguredProfile(t *testing.T) {
	fc := &fakeCompleter{reply: "x"}
	svc, _, sessions := newTestService(t, fc, InvalidateProfile)

	_, err := svc.Reply(context.Background(), "user1", "nope", "hei")
	require.ErrorIs(t, err, ErrUnconfiguredProfile)
	assert.Equal(t, 0, fc.Calls())
	assert.Equal(t, 0, sessions.Len())
}

func TestReply_CompletionFailureDropsUserTurn(t *testing.T) {
	fc := &fakeCompleter{err: &llm.CompletionError{StatusCode: 500, Message: "boom"}}
	svc, repo, sessions := newTestService(t, fc, InvalidateProfile)
	require.NoError(t, repo.PutProfile(context.Background(), fjordview("default")))

	_, err := svc.Reply(context.Background(), "user1", "default", "hei")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrCompletion))

	turns, ok := sessions.Transcript("user1")
	require.True(t, ok)
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
}

func TestApplyProfile_InvalidatesMatchingSessions(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	svc, repo, sessions := newTestService(t, fc, InvalidateProfile)
	ctx := context.Background()
	require.NoError(t, repo.PutProfile(ctx, fjordview("a")))
	require.NoError(t, repo.PutProfile(ctx, fjordview("b")))

	_, err := svc.Reply(ctx, "guest-a", "a", "hei")
	require.NoError(t, err)
	_, err = svc.Reply(ctx, "guest-b", "b", "hei")
	require.NoError(t, err)

	updated := fjordview("a")
	updated.Name = "Fjordview Deluxe"
	n, err := svc.ApplyProfile(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := sessions.Transcript("guest-a")
	assert.False(t, ok)
	_, ok = sessions.Transcript("guest-b")
	assert.True(t, ok)

	// The next turn is seeded from the new profile.
	_, err = svc.Reply(ctx, "guest-a", "a", "hei igjen")
	require.NoError(t, err)
	turns, ok := sessions.Transcript("guest-a")
	require.True(t, ok)
	assert.Contains(t, turns[0].Content, "Fjordview Deluxe")

	got, err := repo.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Fjordview Deluxe", got.Name)
}

func TestApplyProfile_GlobalPolicy(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	svc, repo, sessions := newTestService(t, fc, InvalidateGlobal)
	ctx := context.Background()
	require.NoError(t, repo.PutProfile(ctx, fjordview("a")))
	require.NoError(t, repo.PutProfile(ctx, fjordview("b")))

	for _, sender := range []string{"g1", "g2"} {
		_, err := svc.Reply(ctx, sender, "b", "hei")
		require.NoError(t, err)
	}

	n, err := svc.ApplyProfile(ctx, fjordview("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, sessions.Len())
}

func TestReply_SameSenderIsSerialized(t *testing.T) {
	fc := &fakeCompleter{reply: "ok", delay: 5 * time.Millisecond}
	svc, repo, sessions := newTestService(t, fc, InvalidateProfile)
	require.NoError(t, repo.PutProfile(context.Background(), fjordview("default")))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reply(context.Background(), "user1", "default", fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fc.maxInFlight.Load())

	turns, ok := sessions.Transcript("user1")
	require.True(t, ok)
	require.Len(t, turns, 17)
	for i := 1; i < len(turns); i++ {
		want := domain.RoleUser
		if i%2 == 0 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, turns[i].Role, "turn %d", i)
	}
}

func TestReply_SessionKeyedBySender(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	svc, repo, sessions := newTestService(t, fc, InvalidateProfile)
	ctx := context.Background()
	require.NoError(t, repo.PutProfile(ctx, fjordview("a")))
	other := fjordview("b")
	other.Name = "Lyngen Cabin"
	require.NoError(t, repo.PutProfile(ctx, other))

	_, err := svc.Reply(ctx, "guest", "a", "hei")
	require.NoError(t, err)
	_, err = svc.Reply(ctx, "guest", "b", "hei igjen")
	require.NoError(t, err)

	turns, ok := sessions.Transcript("guest")
	require.True(t, ok)
	assert.NotContains(t, turns[0].Content, "Lyngen Cabin")
	assert.Len(t, turns, 5)

	// A write to b leaves the session seeded from a alone.
	n, err := svc.ApplyProfile(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, ok = sessions.Transcript("guest")
	assert.True(t, ok)
}

// blockingRepo holds PutProfile after the row is written until release is
// closed, so a test can act while a profile write is half done.
type blockingRepo struct {
	store.Repository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) PutProfile(ctx context.Context, profile *domain.Profile) error {
	if err := r.Repository.PutProfile(ctx, profile); err != nil {
		return err
	}
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return nil
}

func TestApplyProfile_ConcurrentReplySeesNewProfile(t *testing.T) {
	base, err := store.NewSQLite(store.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	ctx := context.Background()
	require.NoError(t, base.PutProfile(ctx, fjordview("default")))

	repo := &blockingRepo{Repository: base, entered: make(chan struct{}), release: make(chan struct{})}
	sessions := session.NewStore(20)
	fc := &fakeCompleter{reply: "ok"}
	svc := NewService(repo, sessions, fc, Config{Policy: InvalidateProfile})

	updated := fjordview("default")
	updated.Name = "Fjordview Deluxe"
	applied := make(chan error, 1)
	go func() {
		_, err := svc.ApplyProfile(ctx, updated)
		applied <- err
	}()
	<-repo.entered

	replied := make(chan error, 1)
	go func() {
		_, err := svc.Reply(ctx, "fresh-guest", "default", "hei")
		replied <- err
	}()

	select {
	case err := <-replied:
		t.Fatalf("reply finished while the profile write was in progress: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, sessions.Len())
	assert.Equal(t, 0, fc.Calls())

	close(repo.release)
	require.NoError(t, <-applied)
	require.NoError(t, <-replied)

	turns, ok := sessions.Transcript("fresh-guest")
	require.True(t, ok)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Content, "Fjordview Deluxe")
}

func TestParseInvalidationPolicy(t *testing.T) {
	p, err := ParseInvalidationPolicy("")
	require.NoError(t, err)
	assert.Equal(t, InvalidateProfile, p)

	p, err = ParseInvalidationPolicy(" GLOBAL ")
	require.NoError(t, err)
	assert.Equal(t, InvalidateGlobal, p)

	_, err = ParseInvalidationPolicy("sometimes")
	assert.Error(t, err)
}
