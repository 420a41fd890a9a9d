package refreshbulkexport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-insights/internal/backoff"
	"practice-insights/internal/bulk"
	commonaws "practice-insights/internal/common/aws"
	commonerrors "practice-insights/internal/common/errors"
	commonhttp "practice-insights/internal/common/http"
	"practice-insights/internal/common/logger"
	"practice-insights/internal/greyfinch"
	"practice-insights/internal/summary"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu         sync.Mutex
	bookings   []greyfinch.AppointmentBooking
	logins     int
	expireOnce bool
	pageCalls  int
	typesErr   error
	// lapsedFirst makes the first login return an already expired credential.
	lapsedFirst bool
	// rejectToken makes the lookups fail as expired for this token.
	rejectToken string
	// renewedTTL sets the lifetime of every credential after the first.
	renewedTTL time.Duration
	typesCalls int
}

func (f *fakeAPI) Login(ctx context.Context) (greyfinch.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	expires := fixedNow.Add(time.Hour)
	if f.lapsedFirst && f.logins == 1 {
		expires = fixedNow.Add(-time.Minute)
	}
	if f.renewedTTL > 0 && f.logins > 1 {
		expires = fixedNow.Add(f.renewedTTL)
	}
	return greyfinch.Credential{AccessToken: fmt.Sprintf("token-%d", f.logins), ExpiresAt: expires}, nil
}

func (f *fakeAPI) AppointmentsPage(ctx context.Context, cred greyfinch.Credential, filter greyfinch.AppointmentFilter, page, pageSize int) ([]greyfinch.AppointmentBooking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	if f.expireOnce && page == 2 {
		f.expireOnce = false
		return nil, greyfinch.ErrCredentialExpired
	}
	start := (page - 1) * pageSize
	if start >= len(f.bookings) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(f.bookings) {
		end = len(f.bookings)
	}
	return f.bookings[start:end], nil
}

func (f *fakeAPI) Locations(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.Location, error) {
	if f.rejectToken != "" && cred.AccessToken == f.rejectToken {
		return nil, greyfinch.ErrCredentialExpired
	}
	return []greyfinch.Location{{ID: "loc-1"}, {ID: "loc-2"}}, nil
}

func (f *fakeAPI) AppointmentTypes(ctx context.Context, cred greyfinch.Credential) ([]greyfinch.AppointmentType, error) {
	f.mu.Lock()
	f.typesCalls++
	f.mu.Unlock()
	if f.rejectToken != "" && cred.AccessToken == f.rejectToken {
		return nil, greyfinch.ErrCredentialExpired
	}
	if f.typesErr != nil {
		return nil, f.typesErr
	}
	return []greyfinch.AppointmentType{{ID: "t-1", Name: "Cleaning"}}, nil
}

type fakeSnapshots struct {
	runID string
	rows  int
	err   error
}

func (s *fakeSnapshots) SaveSnapshot(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error) {
	s.runID = runID
	s.rows = len(bookings)
	return len(bookings), s.err
}

type fakeIndexer struct {
	err error
}

func (i *fakeIndexer) IndexAppointments(ctx context.Context, runID string, bookings []greyfinch.AppointmentBooking) (int, error) {
	if i.err != nil {
		return 0, i.err
	}
	return len(bookings), nil
}

type fakePublisher struct {
	events []commonaws.ExportEvent
	err    error
}

func (p *fakePublisher) PublishExport(ctx context.Context, event commonaws.ExportEvent) (string, error) {
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func makeBookings(n int) []greyfinch.AppointmentBooking {
	out := make([]greyfinch.AppointmentBooking, n)
	for i := range out {
		out[i] = greyfinch.AppointmentBooking{
			ID:             fmt.Sprintf("b-%d", i),
			LocalStartDate: fmt.Sprintf("2025-03-%02d", 10+i%2),
			LocalStartTime: "09:00:00",
		}
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newHandler(t *testing.T, deps Dependencies) *Handler {
	deps.Retry = append(deps.Retry, backoff.WithSleeper(noSleep))
	h := NewHandler(&Config{Timeout: time.Minute, PageSize: 2, MaxAppointments: 100}, deps, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixedNow }
	return h
}

func TestExecute_FullRun(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := bulk.NewCache(rdb, time.Minute)
	require.NoError(t, mr.Set("practice:bulk:no_show_recent", "[]"))

	api := &fakeAPI{bookings: makeBookings(5)}
	snapshots := &fakeSnapshots{}
	publisher := &fakePublisher{}
	h := newHandler(t, Dependencies{
		API:       api,
		Snapshots: snapshots,
		Indexer:   &fakeIndexer{},
		Cache:     cache,
		Publisher: publisher,
	})

	out, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.NoError(t, err)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 5, out.Appointments)
	assert.Equal(t, 3, out.Pages)
	assert.Equal(t, 5, out.Stored)
	assert.Equal(t, 5, out.Indexed)
	assert.Equal(t, 1, out.AppointmentTypes)
	assert.Equal(t, 2, out.Locations)
	assert.Equal(t, map[string]int{"2025-03-10": 3, "2025-03-11": 2}, out.DateDistribution)
	assert.Equal(t, 1, out.CacheEvicted)
	assert.Equal(t, "msg-1", out.NotificationID)
	assert.Equal(t, "2025-03-10T09:00:00Z", out.CompletedAt)
	assert.Equal(t, "run-1", snapshots.runID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, 5, publisher.events[0].Appointments)

	var practice summary.Practice
	found, err := cache.Summary(context.Background(), &practice)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, practice.TotalAppointments)
	assert.False(t, mr.Exists("practice:bulk:no_show_recent"))
}

func TestExecute_GeneratesRunID(t *testing.T) {
	h := newHandler(t, Dependencies{API: &fakeAPI{}, Snapshots: &fakeSnapshots{}})

	out, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Len(t, out.RunID, 36)
	assert.Zero(t, out.Appointments)
	assert.Empty(t, out.NotificationID)
}

func TestExecute_ReloginOnExpiredCredential(t *testing.T) {
	api := &fakeAPI{bookings: makeBookings(3), expireOnce: true}
	h := newHandler(t, Dependencies{API: api, Snapshots: &fakeSnapshots{}})

	out, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 3, out.Appointments)
	assert.Equal(t, 2, api.logins)
}

func TestExecute_ReloginWhenCredentialLapses(t *testing.T) {
	api := &fakeAPI{bookings: makeBookings(1), lapsedFirst: true}
	h := newHandler(t, Dependencies{API: api, Snapshots: &fakeSnapshots{}})

	_, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 2, api.logins)
}

func TestExecute_LookupsReloginOnExpiredCredential(t *testing.T) {
	api := &fakeAPI{bookings: makeBookings(3), rejectToken: "token-1"}
	h := newHandler(t, Dependencies{API: api, Snapshots: &fakeSnapshots{}})

	out, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 3, out.Appointments)
	assert.Equal(t, 1, out.AppointmentTypes)
	assert.Equal(t, 2, out.Locations)
	assert.Equal(t, 3, api.logins, "each lookup logs in again once")
	assert.Equal(t, 2, api.typesCalls)
}

func TestExecute_LookupsRefreshLapsedCredential(t *testing.T) {
	api := &fakeAPI{bookings: makeBookings(2), renewedTTL: 3 * time.Hour}
	h := newHandler(t, Dependencies{API: api, Snapshots: &fakeSnapshots{}})
	var mu sync.Mutex
	calls := 0
	h.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		// paging checks the credential twice; lookups see it lapsed.
		if calls > 2 {
			return fixedNow.Add(2 * time.Hour)
		}
		return fixedNow
	}

	_, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 2, api.logins, "one refresh shared by both lookups")
}

func TestExecute_Failures(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		h := newHandler(t, Dependencies{API: &fakeAPI{bookings: makeBookings(1)}, Snapshots: &fakeSnapshots{err: errors.New("disk full")}})
		_, err := h.Execute(context.Background(), &Input{})
		assert.ErrorIs(t, err, ErrSnapshotFailed)
	})

	t.Run("index", func(t *testing.T) {
		h := newHandler(t, Dependencies{
			API:       &fakeAPI{bookings: makeBookings(1)},
			Snapshots: &fakeSnapshots{},
			Indexer:   &fakeIndexer{err: errors.New("cluster red")},
		})
		_, err := h.Execute(context.Background(), &Input{})
		assert.ErrorIs(t, err, ErrIndexFailed)
	})

	t.Run("lookup", func(t *testing.T) {
		h := newHandler(t, Dependencies{
			API:       &fakeAPI{typesErr: &commonhttp.StatusError{Code: 500}},
			Snapshots: &fakeSnapshots{},
		})
		_, err := h.Execute(context.Background(), &Input{})
		assert.ErrorIs(t, err, ErrExtractFailed)
	})
}

func TestExecute_NotificationFailureIsNotFatal(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("throttled")}
	h := newHandler(t, Dependencies{API: &fakeAPI{}, Snapshots: &fakeSnapshots{}, Publisher: publisher})

	out, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Empty(t, out.NotificationID)
	assert.Len(t, publisher.events, 1)
}

func TestExecute_DisabledPublisher(t *testing.T) {
	var publisher *commonaws.SNSPublisher
	h := newHandler(t, Dependencies{API: &fakeAPI{}, Snapshots: &fakeSnapshots{}, Publisher: publisher})

	out, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Empty(t, out.NotificationID)
}

func TestToStandardError(t *testing.T) {
	tests := []struct {
		err  error
		want commonerrors.ErrorCode
	}{
		{greyfinch.ErrAuthFailed, commonerrors.ErrCodePracticeAuthFailed},
		{fmt.Errorf("%w: x", ErrSnapshotFailed), commonerrors.ErrCodeBulkWriteFailed},
		{fmt.Errorf("%w: x", ErrIndexFailed), commonerrors.ErrCodeSearchIndexFailed},
		{fmt.Errorf("%w: %w", ErrExtractFailed, &commonhttp.StatusError{Code: 429}), commonerrors.ErrCodePracticeAPIRateLimited},
		{fmt.Errorf("%w: x", ErrExtractFailed), commonerrors.ErrCodePracticeAPIFailed},
		{errors.New("other"), commonerrors.ErrCodeExportFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, toStandardError(tt.err).Code, tt.err.Error())
	}
}

func TestDateDistribution(t *testing.T) {
	got := DateDistribution([]greyfinch.AppointmentBooking{
		{LocalStartDate: "2025-01-02"},
		{LocalStartDate: "2025-01-02"},
		{LocalStartDate: ""},
	})
	assert.Equal(t, map[string]int{"2025-01-02": 2}, got)
}
