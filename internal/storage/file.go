package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"calcore/internal/metrics"
	"calcore/internal/model"
)

// TimestampLayout is the on-disk timestamp format: ISO-8601 without a zone
// offset. Fractional seconds are written only when non-zero.
const TimestampLayout = "2006-01-02T15:04:05.999999999"

// FileStore persists the whole event collection as one JSON array.
// Every Save replaces the file atomically (temp file + rename).
type FileStore struct {
	path string
	loc  *time.Location
}

// NewFileStore returns a store backed by path. Timestamps read back are
// interpreted in loc (time.Local when nil).
func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{path: path, loc: loc}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// record is the serialized shape of one event.
type record struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	Location        string   `json:"location"`
	Attendees       []string `json:"attendees"`
	ReminderMinutes int      `json:"reminder_minutes"`
	IsAllDay        bool     `json:"is_all_day"`
	Recurrence      string   `json:"recurrence"`
	CreatedAt       string   `json:"created_at"`
}

// Load reads the full collection. A missing file yields an empty slice and
// no error; content that cannot be decoded into valid, uniquely keyed
// events yields a *CorruptError. Other I/O failures are returned as is.
func (s *FileStore) Load() (events []model.Event, err error) {
	defer metrics.ObserveStore("load", time.Now(), &err)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Event{}, nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.Event{}, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}

	events = make([]model.Event, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		ev, err := s.decode(rec)
		if err != nil {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("record %d: %w", i, err)}
		}
		if _, dup := seen[ev.ID]; dup {
			return nil, &CorruptError{Path: s.path, Err: fmt.Errorf("record %d: duplicate id %q", i, ev.ID)}
		}
		seen[ev.ID] = struct{}{}
		events = append(events, ev)
	}
	return events, nil
}

// Save replaces the backing file with events. The containing directory is
// created if absent. Failures are returned as *WriteError and leave the
// previous file untouched.
func (s *FileStore) Save(events []model.Event) (err error) {
	defer metrics.ObserveStore("save", time.Now(), &err)

	records := make([]record, 0, len(events))
	for _, ev := range events {
		records = append(records, encode(ev))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

// Quarantine moves an unreadable backing file aside so a later Save cannot
// overwrite it. It returns the new path, or "" if there was nothing to move.
func (s *FileStore) Quarantine(now time.Time) (string, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	dst := s.path + ".corrupt-" + strconv.FormatInt(now.Unix(), 10)
	if err := os.Rename(s.path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func encode(ev model.Event) record {
	attendees := ev.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	recurrence := ev.Recurrence
	if recurrence == "" {
		recurrence = model.RecurrenceNone
	}
	return record{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		StartTime:       FormatTimestamp(ev.Start),
		EndTime:         FormatTimestamp(ev.End),
		Location:        ev.Location,
		Attendees:       attendees,
		ReminderMinutes: ev.ReminderMinutes,
		IsAllDay:        ev.AllDay,
		Recurrence:      string(recurrence),
		CreatedAt:       FormatTimestamp(ev.CreatedAt),
	}
}

func (s *FileStore) decode(rec record) (model.Event, error) {
	if rec.ID == "" {
		return model.Event{}, errors.New("missing id")
	}
	start, err := ParseTimestamp(rec.StartTime, s.loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseTimestamp(rec.EndTime, s.loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("end_time: %w", err)
	}
	created, err := ParseTimestamp(rec.CreatedAt, s.loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("created_at: %w", err)
	}
	recurrence := model.Recurrence(rec.Recurrence)
	if recurrence == "" {
		recurrence = model.RecurrenceNone
	}
	attendees := rec.Attendees
	if attendees == nil {
		attendees = []string{}
	}

	ev := model.Event{
		ID:              rec.ID,
		Title:           rec.Title,
		Description:     rec.Description,
		Location:        rec.Location,
		Start:           start,
		End:             end,
		Attendees:       attendees,
		ReminderMinutes: rec.ReminderMinutes,
		AllDay:          rec.IsAllDay,
		Recurrence:      recurrence,
		CreatedAt:       created,
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// FormatTimestamp renders t's wall clock without a zone offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a zone-less ISO-8601 timestamp in loc. Values that
// do carry an offset are accepted and reduced to their wall clock.
func ParseTimestamp(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	// Fractional seconds after the seconds field are accepted on parse even
	// though the layout does not spell them out.
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return model.Naive(t, loc), nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calcore-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
