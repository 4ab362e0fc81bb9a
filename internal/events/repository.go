package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
	"calcore/internal/storage"
)

const maxIDAttempts = 16

// Store is the durable mirror of the collection. Save always receives the
// complete collection.
type Store interface {
	Load() ([]model.Event, error)
	Save(events []model.Event) error
}

// quarantiner is implemented by stores that can move an unreadable backing
// file out of the way before it gets overwritten.
type quarantiner interface {
	Quarantine(now time.Time) (string, error)
}

type pather interface {
	Path() string
}

// Status describes how the repository started and what it holds.
type Status struct {
	TotalEvents int       `json:"total_events"`
	DataFile    string    `json:"data_file,omitempty"`
	LoadedAt    time.Time `json:"loaded_at"`

	// Recovered is true when the backing data was corrupt and the
	// repository started with an empty collection instead.
	Recovered      bool   `json:"recovered"`
	LoadError      string `json:"load_error,omitempty"`
	QuarantinePath string `json:"quarantine_path,omitempty"`
}

// Repository is the only mutation path into the event collection. Every
// mutation is computed on a copy, persisted, and only then swapped in, so
// readers never see state that is not on disk.
type Repository struct {
	mu     sync.RWMutex
	events []model.Event
	index  map[string]int

	store           Store
	loc             *time.Location
	clock           func() time.Time
	newID           func() string
	defaultReminder int
	strict          bool

	status Status
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock injects the time source used for created_at.
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) { r.clock = clock }
}

// WithLocation sets the single frame timestamps are normalized into.
func WithLocation(loc *time.Location) Option {
	return func(r *Repository) { r.loc = loc }
}

// WithIDGenerator overrides id generation; collisions are retried.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithDefaultReminder sets the reminder applied when Create gets none.
func WithDefaultReminder(minutes int) Option {
	return func(r *Repository) { r.defaultReminder = minutes }
}

// WithStrictLoad makes Open fail on corrupt backing data instead of
// starting empty.
func WithStrictLoad(strict bool) Option {
	return func(r *Repository) { r.strict = strict }
}

// Open loads the collection from store and returns a ready repository.
//
// Corrupt backing data is logged, moved aside when the store supports it,
// and recorded in Status().Recovered; the repository then starts empty.
// With WithStrictLoad(true) the *storage.CorruptError is returned instead.
// Any other load failure is always returned.
func Open(store Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, errors.New("events: store is nil")
	}
	r := &Repository{
		store:           store,
		loc:             time.Local,
		clock:           time.Now,
		newID:           shortID,
		defaultReminder: model.DefaultReminderMinutes,
		index:           make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if p, ok := store.(pather); ok {
		r.status.DataFile = p.Path()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded, err := store.Load()
	if err != nil {
		var corrupt *storage.CorruptError
		if !errors.As(err, &corrupt) || r.strict {
			return nil, err
		}
		r.recoverFromCorrupt(err)
		loaded = nil
	}

	r.commit(normalizeAll(loaded, r.loc))
	r.status.LoadedAt = r.clock()
	appLog.Info("events loaded", "count", len(r.events), "data_file", r.status.DataFile, "recovered", r.status.Recovered)
	return r, nil
}

func (r *Repository) recoverFromCorrupt(err error) {
	r.status.Recovered = true
	r.status.LoadError = err.Error()
	appLog.Error("event data is corrupt; starting with an empty collection", err, "data_file", r.status.DataFile)

	q, ok := r.store.(quarantiner)
	if !ok {
		return
	}
	dst, qerr := q.Quarantine(r.clock())
	if qerr != nil {
		appLog.Error("failed to move corrupt event data aside", qerr, "data_file", r.status.DataFile)
		return
	}
	if dst != "" {
		r.status.QuarantinePath = dst
		appLog.Info("corrupt event data moved aside", "path", dst)
	}
}

// Create validates fields, assigns a fresh id and created_at, persists the
// collection and returns the id.
func (r *Repository) Create(fields model.EventFields) (string, error) {
	ev := r.fromFields(fields)
	if err := ev.Validate(); err != nil {
		metrics.Mutation("create", "invalid")
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.uniqueID()
	if err != nil {
		metrics.Mutation("create", "error")
		return "", err
	}
	ev.ID = id
	ev.CreatedAt = model.Naive(r.clock(), r.loc)

	next := make([]model.Event, len(r.events), len(r.events)+1)
	copy(next, r.events)
	next = append(next, ev)

	if err := r.persist("create", next); err != nil {
		return "", err
	}
	appLog.Info("event created", "id", id, "title", ev.Title)
	return id, nil
}

// Get returns a copy of the event with id.
func (r *Repository) Get(id string) (model.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return model.Event{}, false
	}
	return r.events[i].Clone(), true
}

// Update merges patch into the event with id and persists. It returns
// false with a nil error when id is unknown. The merged record is fully
// re-validated; on any error the stored event is unchanged.
func (r *Repository) Update(id string, patch model.EventPatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		metrics.Mutation("update", "not_found")
		return false, nil
	}

	merged := patch.Apply(r.events[i])
	merged.Start = model.Naive(merged.Start, r.loc)
	merged.End = model.Naive(merged.End, r.loc)
	if err := merged.Validate(); err != nil {
		metrics.Mutation("update", "invalid")
		return false, err
	}

	next := make([]model.Event, len(r.events))
	copy(next, r.events)
	next[i] = merged

	if err := r.persist("update", next); err != nil {
		return false, err
	}
	appLog.Info("event updated", "id", id, "title", merged.Title)
	return true, nil
}

// Delete removes the event with id and persists. It returns false with a
// nil error when id is unknown.
func (r *Repository) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		metrics.Mutation("delete", "not_found")
		return false, nil
	}
	title := r.events[i].Title

	next := make([]model.Event, 0, len(r.events)-1)
	next = append(next, r.events[:i]...)
	next = append(next, r.events[i+1:]...)

	if err := r.persist("delete", next); err != nil {
		return false, err
	}
	appLog.Info("event deleted", "id", id, "title", title)
	return true, nil
}

// Snapshot returns a copy of every stored event in storage order.
func (r *Repository) Snapshot() []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Event, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Clone()
	}
	return out
}

// Len returns the number of stored events.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Location returns the frame event timestamps are stored in.
func (r *Repository) Location() *time.Location {
	return r.loc
}

// Status reports startup and size information.
func (r *Repository) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := r.status
	st.TotalEvents = len(r.events)
	return st
}

// persist saves next and, only on success, makes it the live collection.
// Must be called with mu held for writing.
func (r *Repository) persist(op string, next []model.Event) error {
	if err := r.store.Save(next); err != nil {
		metrics.Mutation(op, "error")
		appLog.Error("event persist failed; change discarded", err, "operation", op)
		return fmt.Errorf("events: %s: %w", op, err)
	}
	r.commit(next)
	metrics.Mutation(op, "ok")
	return nil
}

// commit swaps in next and rebuilds the id index. Must be called with mu
// held for writing.
func (r *Repository) commit(next []model.Event) {
	if next == nil {
		next = []model.Event{}
	}
	index := make(map[string]int, len(next))
	for i, ev := range next {
		index[ev.ID] = i
	}
	r.events = next
	r.index = index
	metrics.SetStoredEvents(len(next))
}

func (r *Repository) uniqueID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := r.newID()
		if id == "" {
			continue
		}
		if _, taken := r.index[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("events: no unique id after %d attempts", maxIDAttempts)
}

func (r *Repository) fromFields(f model.EventFields) model.Event {
	reminder := r.defaultReminder
	if f.ReminderMinutes != nil {
		reminder = *f.ReminderMinutes
	}
	recurrence := f.Recurrence
	if recurrence == "" {
		recurrence = model.RecurrenceNone
	}
	return model.Event{
		Title:           f.Title,
		Description:     f.Description,
		Location:        f.Location,
		Start:           model.Naive(f.Start, r.loc),
		End:             model.Naive(f.End, r.loc),
		Attendees:       append(make([]string, 0, len(f.Attendees)), f.Attendees...),
		ReminderMinutes: reminder,
		AllDay:          f.AllDay,
		Recurrence:      recurrence,
	}
}

func normalizeAll(events []model.Event, loc *time.Location) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		ev.Start = model.Naive(ev.Start, loc)
		ev.End = model.Naive(ev.End, loc)
		ev.CreatedAt = model.Naive(ev.CreatedAt, loc)
		if ev.Attendees == nil {
			ev.Attendees = []string{}
		}
		out = append(out, ev)
	}
	return out
}

// shortID mirrors the 8-character ids of existing data files.
func shortID() string {
	return uuid.NewString()[:8]
}
