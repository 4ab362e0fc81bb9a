package events

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/model"
	"calcore/internal/storage"
)

// memStore keeps the last saved collection in memory and can be told to
// fail saves.
type memStore struct {
	mu      sync.Mutex
	events  []model.Event
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]model.Event(nil), m.events...), nil
}

func (m *memStore) Save(events []model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.events = append([]model.Event(nil), events...)
	return nil
}

func (m *memStore) failSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

func newRepo(t *testing.T, store Store, opts ...Option) *Repository {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock), WithLocation(time.UTC)}, opts...)
	repo, err := Open(store, opts...)
	require.NoError(t, err)
	return repo
}

func standup() model.EventFields {
	return model.EventFields{Title: "Standup", Start: at(4, 9, 0), End: at(4, 9, 15)}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	repo := newRepo(t, store)

	id, err := repo.Create(standup())
	require.NoError(t, err)
	assert.Len(t, id, 8)

	ev, ok := repo.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Standup", ev.Title)
	assert.Equal(t, at(4, 9, 0), ev.Start)
	assert.Equal(t, at(4, 9, 15), ev.End)
	assert.Equal(t, model.DefaultReminderMinutes, ev.ReminderMinutes)
	assert.Equal(t, model.RecurrenceNone, ev.Recurrence)
	assert.Equal(t, fixedNow, ev.CreatedAt)
	assert.NotNil(t, ev.Attendees)

	require.Len(t, store.events, 1)
	assert.Equal(t, id, store.events[0].ID)
}

func TestCreateHonorsExplicitZeroReminder(t *testing.T) {
	t.Parallel()

	repo := newRepo(t, &memStore{}, WithDefaultReminder(30))

	zero := 0
	f := standup()
	f.ReminderMinutes = &zero
	id, err := repo.Create(f)
	require.NoError(t, err)
	ev, _ := repo.Get(id)
	assert.Equal(t, 0, ev.ReminderMinutes)

	id, err = repo.Create(standup())
	require.NoError(t, err)
	ev, _ = repo.Get(id)
	assert.Equal(t, 30, ev.ReminderMinutes)
}

func TestCreateValidationLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields model.EventFields
	}{
		{name: "empty title", fields: model.EventFields{Title: "", Start: at(4, 9, 0), End: at(4, 10, 0)}},
		{name: "end before start", fields: model.EventFields{Title: "x", Start: at(4, 10, 0), End: at(4, 9, 0)}},
		{name: "bad recurrence", fields: model.EventFields{Title: "x", Start: at(4, 9, 0), End: at(4, 10, 0), Recurrence: "fortnightly"}},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &memStore{}
			repo := newRepo(t, store)

			_, err := repo.Create(tt.fields)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Zero(t, repo.Len())
			assert.Zero(t, store.saves)
		})
	}
}

func TestCreateRetriesCollidingIDs(t *testing.T) {
	t.Parallel()

	ids := []string{"aaaaaaaa", "aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	var mu sync.Mutex
	gen := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
	repo := newRepo(t, &memStore{}, WithIDGenerator(gen))

	first, err := repo.Create(standup())
	require.NoError(t, err)
	second, err := repo.Create(standup())
	require.NoError(t, err)

	assert.Equal(t, "aaaaaaaa", first)
	assert.Equal(t, "bbbbbbbb", second)
}

func TestCreateGivesUpOnExhaustedIDs(t *testing.T) {
	t.Parallel()

	repo := newRepo(t, &memStore{}, WithIDGenerator(func() string { return "same" }))
	_, err := repo.Create(standup())
	require.NoError(t, err)

	_, err = repo.Create(standup())
	require.Error(t, err)
	assert.Equal(t, 1, repo.Len())
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	repo := newRepo(t, &memStore{})
	id, err := repo.Create(standup())
	require.NoError(t, err)

	title := "Daily standup"
	ok, err := repo.Update(id, model.EventPatch{Title: &title})
	require.NoError(t, err)
	require.True(t, ok)

	ev, _ := repo.Get(id)
	assert.Equal(t, "Daily standup", ev.Title)
	assert.Equal(t, at(4, 9, 0), ev.Start)
	assert.Equal(t, fixedNow, ev.CreatedAt)
	assert.Equal(t, id, ev.ID)
}

func TestUpdateUnknownID(t *testing.T) {
	t.Parallel()

	repo := newRepo(t, &memStore{})
	title := "x"
	ok, err := repo.Update("missing", model.EventPatch{Title: &title})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Delete("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateRevalidatesMergedRecord(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	repo := newRepo(t, store)
	id, err := repo.Create(standup())
	require.NoError(t, err)
	savesBefore := store.saves

	// Moving only the start past the existing end must be rejected.
	late := at(4, 10, 0)
	ok, err := repo.Update(id, model.EventPatch{Start: &late})
	assert.False(t, ok)
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))

	ev, _ := repo.Get(id)
	assert.Equal(t, at(4, 9, 0), ev.Start)
	assert.Equal(t, savesBefore, store.saves)
}

func TestWriteFailureRollsBack(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	repo := newRepo(t, store)
	id, err := repo.Create(standup())
	require.NoError(t, err)

	diskFull := &storage.WriteError{Path: "events.json", Err: errors.New("no space left on device")}
	store.failSaves(diskFull)

	_, err = repo.Create(standup())
	var werr *storage.WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 1, repo.Len())

	title := "renamed"
	ok, err := repo.Update(id, model.EventPatch{Title: &title})
	require.Error(t, err)
	assert.False(t, ok)
	ev, _ := repo.Get(id)
	assert.Equal(t, "Standup", ev.Title)

	ok, err = repo.Delete(id)
	require.Error(t, err)
	assert.False(t, ok)
	_, found := repo.Get(id)
	assert.True(t, found)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	repo := newRepo(t, &memStore{})
	f := standup()
	f.Attendees = []string{"ana"}
	id, err := repo.Create(f)
	require.NoError(t, err)

	snap := repo.Snapshot()
	snap[0].Title = "mutated"
	snap[0].Attendees[0] = "mallory"

	ev, _ := repo.Get(id)
	assert.Equal(t, "Standup", ev.Title)
	assert.Equal(t, []string{"ana"}, ev.Attendees)
}

func TestOpenRecoversFromCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	repo := newRepo(t, storage.NewFileStore(path, time.UTC))
	assert.Zero(t, repo.Len())

	st := repo.Status()
	assert.True(t, st.Recovered)
	assert.NotEmpty(t, st.LoadError)
	assert.Equal(t, path, st.DataFile)
	assert.Equal(t, fmt.Sprintf("%s.corrupt-%d", path, fixedNow.Unix()), st.QuarantinePath)
	assert.FileExists(t, st.QuarantinePath)

	// The next save starts a fresh file; the quarantined copy is untouched.
	_, err := repo.Create(standup())
	require.NoError(t, err)
	raw, err := os.ReadFile(st.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(raw))
}

func TestOpenStrictLoadFailsOnCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte("[{]"), 0o600))

	_, err := Open(storage.NewFileStore(path, time.UTC), WithStrictLoad(true))
	var corrupt *storage.CorruptError
	require.True(t, errors.As(err, &corrupt))
	assert.FileExists(t, path)
}

func TestOpenPropagatesOtherLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(&memStore{loadErr: errors.New("permission denied")})
	require.Error(t, err)

	_, err = Open(nil)
	require.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "events.json")
	repo := newRepo(t, storage.NewFileStore(path, time.UTC))

	f := standup()
	f.Attendees = []string{"ana@example.com"}
	f.Recurrence = model.RecurrenceWeekly
	id, err := repo.Create(f)
	require.NoError(t, err)
	want, _ := repo.Get(id)

	reopened := newRepo(t, storage.NewFileStore(path, time.UTC))
	got, ok := reopened.Get(id)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.False(t, reopened.Status().Recovered)
}

func TestStandupLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.json")
	repo := newRepo(t, storage.NewFileStore(path, time.UTC))

	id, err := repo.Create(standup())
	require.NoError(t, err)

	var onDay []model.Event
	for _, ev := range repo.Snapshot() {
		if model.SameDate(ev.Start, at(4, 0, 0)) {
			onDay = append(onDay, ev)
		}
	}
	require.Len(t, onDay, 1)
	assert.Equal(t, id, onDay[0].ID)

	start, end := at(4, 9, 30), at(4, 9, 45)
	ok, err := repo.Update(id, model.EventPatch{Start: &start, End: &end})
	require.NoError(t, err)
	require.True(t, ok)
	ev, _ := repo.Get(id)
	assert.Equal(t, start, ev.Start)
	assert.Equal(t, end, ev.End)

	ok, err = repo.Delete(id)
	require.NoError(t, err)
	require.True(t, ok)
	_, found := repo.Get(id)
	assert.False(t, found)

	reopened := newRepo(t, storage.NewFileStore(path, time.UTC))
	assert.Zero(t, reopened.Len())
}

func TestConcurrentCreatesAreAllPersisted(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	repo := newRepo(t, store)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := standup()
			f.Title = fmt.Sprintf("event %d", i)
			if _, err := repo.Create(f); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, n, repo.Len())
	assert.Len(t, store.events, n)

	seen := make(map[string]bool, n)
	for _, ev := range repo.Snapshot() {
		assert.False(t, seen[ev.ID], "duplicate id %s", ev.ID)
		seen[ev.ID] = true
	}
}
