package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "spacecal/internal/errors"
	"spacecal/internal/model"
	"spacecal/internal/store"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup
SUMMARY:Crew standup
DTSTART:20240304T083000Z
DTEND:20240304T084500Z
RRULE:FREQ=WEEKLY;COUNT=10
EXDATE:20240311T083000Z
END:VEVENT
BEGIN:VEVENT
UID:standup
RECURRENCE-ID:20240318T083000Z
SUMMARY:Crew standup (moved)
DTSTART:20240318T100000Z
DTEND:20240318T101500Z
END:VEVENT
BEGIN:VEVENT
UID:holiday
SUMMARY:Launch day
DTSTART;VALUE=DATE:20240315
DTEND;VALUE=DATE:20240316
END:VEVENT
BEGIN:VEVENT
UID:other-month
SUMMARY:Too late
DTSTART:20240405T120000Z
END:VEVENT
BEGIN:VEVENT
SUMMARY:No uid
DTSTART:20240306T120000Z
END:VEVENT
END:VCALENDAR
`

var src = Source{ID: "test", URL: "https://example.com/cal.ics?token=secret"}

func marchUTC() MonthRange {
	return MonthOf(time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(src, []byte(feed))
	require.NoError(t, err)
	require.Len(t, events, 4)

	byUID := map[string][]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}
	require.Len(t, byUID["standup"], 2)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=10", byUID["standup"][0].RawRRule)
	assert.Len(t, byUID["standup"][0].ExDates, 1)
	assert.True(t, byUID["standup"][1].IsOverride())

	holiday := byUID["holiday"][0]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, "2024-03-15", model.DateOf(holiday.Start))
}

func TestParseICSRejectsGarbage(t *testing.T) {
	_, err := ParseICS(src, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeParseFailed, apperr.GetCode(err))
}

func TestExpandMonth(t *testing.T) {
	events, err := ParseICS(src, []byte(feed))
	require.NoError(t, err)

	occs, err := ExpandMonth(events, marchUTC())
	require.NoError(t, err)

	var got []string
	for _, o := range occs {
		got = append(got, o.Date()+" "+o.AlarmTime()+" "+o.Summary)
	}
	assert.Equal(t, []string{
		"2024-03-04 08:30 Crew standup",
		"2024-03-15  Launch day",
		"2024-03-18 10:00 Crew standup (moved)",
		"2024-03-25 08:30 Crew standup",
	}, got)
}

func TestExpandMonthUsesDisplayLocation(t *testing.T) {
	events, err := ParseICS(src, []byte(feed))
	require.NoError(t, err)
	seoul := time.FixedZone("KST", 9*60*60)

	occs, err := ExpandMonth(events, MonthOf(time.Date(2024, time.March, 5, 0, 0, 0, 0, seoul)))
	require.NoError(t, err)
	require.NotEmpty(t, occs)
	assert.Equal(t, "17:30", occs[0].AlarmTime())
	assert.Equal(t, "2024-03-04", occs[0].Date())
}

func TestExportRoundTrip(t *testing.T) {
	created := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	events := []model.Event{
		{ID: "a", Text: "Dock", Date: "2024-03-05", AlarmTime: "09:30", Completed: true, CreatedAt: created},
		{ID: "b", Text: "Survey", Date: "2024-03-07", CreatedAt: created},
	}
	out := Export(events, created)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-SPACECAL-ALARM:09:30")

	parsed, err := ParseICS(Source{ID: "export"}, []byte(out))
	require.NoError(t, err)
	occs, err := ExpandMonth(parsed, marchUTC())
	require.NoError(t, err)
	require.Len(t, occs, 2)

	assert.Equal(t, model.NewEvent{Text: "Dock", Date: "2024-03-05", AlarmTime: "09:30", Completed: true, UserID: "u"},
		occs[0].NewEvent("u"))
	assert.Equal(t, model.NewEvent{Text: "Survey", Date: "2024-03-07", UserID: "u"}, occs[1].NewEvent("u"))
}

func newImporter(t *testing.T, fetcher *Fetcher) (*Importer, *store.EventStore) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC))
	st := store.New(store.NewMemoryBackend(), store.WithClock(clk))
	t.Cleanup(func() { _ = st.Close() })
	return NewImporter(st, fetcher, time.UTC, clk), st
}

func TestImportBodySkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	im, st := newImporter(t, nil)

	existing := []model.Event{{Text: "Launch day", Date: "2024-03-15"}}
	res, err := im.ImportBody(ctx, "alice", existing, src, []byte(feed))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Parsed: 4, Created: 3, Skipped: 1}, res)

	snap, err := store.Snapshot(ctx, st, "alice")
	require.NoError(t, err)
	assert.Len(t, snap, 3)

	res, err = im.ImportBody(ctx, "alice", snap, src, []byte(feed))
	require.NoError(t, err)
	// "Launch day" was already present on the first run, so it is never
	// created even though the store does not hold it.
	assert.Equal(t, ImportResult{Parsed: 4, Skipped: 4}, res)
}

func TestImportDoesNotRecreateDeletedEvents(t *testing.T) {
	ctx := context.Background()
	im, st := newImporter(t, nil)

	res, err := im.ImportBody(ctx, "alice", nil, src, []byte(feed))
	require.NoError(t, err)
	require.Equal(t, 4, res.Created)

	snap, err := store.Snapshot(ctx, st, "alice")
	require.NoError(t, err)
	require.Len(t, snap, 4)
	for _, ev := range snap {
		require.NoError(t, st.Delete(ctx, "alice", ev.ID))
	}

	res, err = im.ImportBody(ctx, "alice", nil, src, []byte(feed))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Parsed: 4, Skipped: 4}, res)

	snap, err = store.Snapshot(ctx, st, "alice")
	require.NoError(t, err)
	assert.Empty(t, snap)

	// The ledger is per user.
	res, err = im.ImportBody(ctx, "bob", nil, src, []byte(feed))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
}

func TestFetcherUsesConditionalCache(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	s := Source{ID: "srv", URL: srv.URL + "/cal.ics"}

	first, err := f.FetchOne(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, notModified.Load())
}

func TestFetcherFallsBackToCacheOnError(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	s := Source{ID: "srv", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), s)
	require.NoError(t, err)
	fail.Store(true)
	res, err := f.FetchOne(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	_, err = f.FetchOne(context.Background(), Source{ID: "other", URL: srv.URL + "/other"})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestRefresherRunJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	im, st := newImporter(t, NewFetcher(t.TempDir(), srv.Client()))
	r := NewRefresher(im, time.UTC)
	job := Job{UserID: "alice", Sources: []Source{{ID: "a", URL: srv.URL}, {ID: "b", URL: srv.URL + "/same"}}}
	require.NoError(t, r.Add("@every 1h", job))
	assert.Error(t, r.Add("not cron", job))
	assert.Equal(t, 1, r.Len())

	res := r.RunJob(context.Background(), job)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 4, res.Skipped)

	snap, err := store.Snapshot(context.Background(), st, "alice")
	require.NoError(t, err)
	assert.Len(t, snap, 4)
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.com/private/cal.ics?token=abcd")
	assert.Equal(t, "https://example.com/...(redacted)", got)
	assert.False(t, strings.Contains(got, "abcd"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
