package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/hostbot/internal/chat"
	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/fetch"
	"github.com/ashureev/hostbot/internal/knowledge"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/session"
	"github.com/ashureev/hostbot/internal/store"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) FetchAll(_ context.Context, urls []string) ([]fetch.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	docs := make([]fetch.Document, len(urls))
	for i, u := range urls {
		docs[i] = fetch.Document{URL: u, Text: "Parking: Gate 12, free after 18:00"}
	}
	return docs, nil
}

type scriptedCompleter struct {
	replies []string
	err     error
}

func (c *scriptedCompleter) Complete(_ context.Context, _ []domain.Turn, _ float64) (domain.Turn, error) {
	if c.err != nil {
		return domain.Turn{}, c.err
	}
	if len(c.replies) == 0 {
		return domain.Turn{Role: domain.RoleAssistant, Content: "ok"}, nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return domain.Turn{Role: domain.RoleAssistant, Content: reply}, nil
}

type harness struct {
	svc       *Service
	chat      *chat.Service
	repo      store.Repository
	sessions  *session.Store
	fetcher   *fakeFetcher
	completer *scriptedCompleter
}

var testDefaults = Defaults{ProfileID: "default", Name: "My Place", Locale: "no", City: "Tromsø"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.NewSQLite(store.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.EnsureProfile(context.Background(), &domain.Profile{
		ID: "default", Name: "My Place", Locale: "no", City: "Tromsø", UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	completer := &scriptedCompleter{}
	sessions := session.NewStore(20)
	chatSvc := chat.NewService(repo, sessions, completer, chat.Config{Temperature: 0.7})
	fetcher := &fakeFetcher{}

	svc := NewService(fetcher, knowledge.NewExtractor(completer), chatSvc, repo, testDefaults)
	return &harness{svc: svc, chat: chatSvc, repo: repo, sessions: sessions, fetcher: fetcher, completer: completer}
}

const parkingFacts = `{"business_name": "Fjordview", "parking": {"available": true, "instructions": "Gate 12, free after 18:00"},
"nearby_places": {"attractions": [{"name": "Fjellheisen", "reason": "Views"}]}}`

func TestIngest_EmptyURLs(t *testing.T) {
	h := newHarness(t)
	before, err := h.repo.GetProfile(context.Background(), "default")
	require.NoError(t, err)

	for _, urls := range [][]string{nil, {}, {"  ", ""}} {
		_, err := h.svc.Ingest(context.Background(), Request{URLs: urls})
		require.ErrorIs(t, err, ErrMissingInput)
		assert.Equal(t, "missing_input", Kind(err))
	}

	after, err := h.repo.GetProfile(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, h.fetcher.calls)
}

func TestIngest_SuccessReplacesProfileAndInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// user1 is chatting against the placeholder profile.
	_, err := h.chat.Reply(ctx, "user1", "default", "hei")
	require.NoError(t, err)
	seeded, _ := h.sessions.Transcript("user1")
	assert.Contains(t, seeded[0].Content, "pending")

	h.completer.replies = []string{parkingFacts}
	out, err := h.svc.Ingest(ctx, Request{URLs: []string{"https://fjordview.example/", "https://fjordview.example/"}})
	require.NoError(t, err)
	require.False(t, out.ParseFailed)
	require.NotNil(t, out.Profile)
	assert.Equal(t, 1, out.InvalidatedSessions)
	assert.Equal(t, []string{"https://fjordview.example/"}, out.Profile.Sources)
	assert.Equal(t, "My Place", out.Profile.Name)

	stored, err := h.repo.GetProfile(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, stored.Knowledge.Facts)
	assert.Equal(t, "Gate 12, free after 18:00", *stored.Knowledge.Facts.Parking.Instructions)
	assert.Contains(t, stored.Knowledge.Facts.NearbyPlaces["attractions"][0].MapsLink, "Fjellheisen")

	_, ok := h.sessions.Transcript("user1")
	assert.False(t, ok)

	_, err = h.chat.Reply(ctx, "user1", "default", "Hvor kan jeg parkere?")
	require.NoError(t, err)
	reseeded, _ := h.sessions.Transcript("user1")
	assert.Contains(t, reseeded[0].Content, "Gate 12, free after 18:00")

	records, err := h.repo.ListIngestions(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.IngestionSucceeded, records[0].Status)
}

func TestIngest_MalformedOutputKeepsPriorProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.completer.replies = []string{parkingFacts}
	_, err := h.svc.Ingest(ctx, Request{URLs: []string{"https://fjordview.example/"}})
	require.NoError(t, err)
	before, err := h.repo.GetProfile(ctx, "default")
	require.NoError(t, err)

	raw := "I could not find the data, sorry! {"
	h.completer.replies = []string{raw}
	out, err := h.svc.Ingest(ctx, Request{URLs: []string{"https://other.example/"}, Name: "Changed"})
	require.NoError(t, err)
	assert.True(t, out.ParseFailed)
	assert.Equal(t, raw, out.Raw)
	assert.Nil(t, out.Profile)

	after, err := h.repo.GetProfile(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	records, err := h.repo.ListIngestions(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.IngestionParseFailed, records[0].Status)
}

func TestIngest_OffSchemaOutputKeepsPriorProfile(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty object", raw: `{}`},
		{name: "refusal", raw: `{"error": "I cannot read these pages"}`},
		{name: "fenced chat answer", raw: "```json\n{\"answer\": \"Sorry, no data\"}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			h.completer.replies = []string{parkingFacts}
			_, err := h.svc.Ingest(ctx, Request{URLs: []string{"https://fjordview.example/"}})
			require.NoError(t, err)
			before, err := h.repo.GetProfile(ctx, "default")
			require.NoError(t, err)

			_, err = h.chat.Reply(ctx, "guest", "default", "hei")
			require.NoError(t, err)

			h.completer.replies = []string{tt.raw}
			out, err := h.svc.Ingest(ctx, Request{URLs: []string{"https://fjordview.example/"}})
			require.NoError(t, err)
			assert.True(t, out.ParseFailed)
			assert.Equal(t, tt.raw, out.Raw)
			assert.Nil(t, out.Profile)
			assert.Zero(t, out.InvalidatedSessions)

			after, err := h.repo.GetProfile(ctx, "default")
			require.NoError(t, err)
			assert.Equal(t, before, after)
			require.NotNil(t, after.Knowledge.Facts)
			assert.Equal(t, "Gate 12, free after 18:00", *after.Knowledge.Facts.Parking.Instructions)

			_, ok := h.sessions.Transcript("guest")
			assert.True(t, ok)

			records, err := h.repo.ListIngestions(ctx, "default", 10)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, domain.IngestionParseFailed, records[0].Status)
		})
	}
}

func TestIngest_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = fmt.Errorf("%w: https://x.example: status 503", fetch.ErrUpstreamFetch)

	_, err := h.svc.Ingest(context.Background(), Request{ProfileID: "cabin", URLs: []string{"https://x.example"}})
	require.ErrorIs(t, err, fetch.ErrUpstreamFetch)
	assert.Equal(t, "upstream_fetch", Kind(err))

	p, err := h.repo.GetProfile(context.Background(), "cabin")
	require.NoError(t, err)
	assert.Nil(t, p)

	records, err := h.repo.ListIngestions(context.Background(), "cabin", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.IngestionFailed, records[0].Status)
	assert.Contains(t, records[0].Detail, "status 503")
}

func TestIngest_CompletionFailure(t *testing.T) {
	h := newHarness(t)
	h.completer.err = &llm.CompletionError{StatusCode: 429, Message: "rate limited"}

	_, err := h.svc.Ingest(context.Background(), Request{URLs: []string{"https://x.example"}})
	require.ErrorIs(t, err, llm.ErrCompletion)
	assert.Equal(t, "completion_api", Kind(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestIngest_NewProfileUsesRequestFields(t *testing.T) {
	h := newHarness(t)
	h.completer.replies = []string{parkingFacts}

	out, err := h.svc.Ingest(context.Background(), Request{
		ProfileID: "cabin", Name: "Lyngen Cabin", Locale: "en", City: "Lyngseidet",
		URLs: []string{"https://cabin.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cabin", out.Profile.ID)
	assert.Equal(t, "Lyngen Cabin", out.Profile.Name)
	assert.Equal(t, "en", out.Profile.Locale)
	assert.Contains(t, out.Profile.Knowledge.Facts.NearbyPlaces["attractions"][0].MapsLink, "Lyngseidet")
	assert.Equal(t, 0, out.InvalidatedSessions)
}
