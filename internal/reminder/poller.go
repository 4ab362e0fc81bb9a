package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
)

// DefaultSpec polls once per minute, the granularity reminders are
// detected at.
const DefaultSpec = "* * * * *"

// Source reports reminders due at a given instant.
type Source interface {
	DueReminders(now time.Time) []model.Event
}

// Notifier receives each due reminder. Delivery is the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev model.Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev model.Event) error {
	return f(ctx, ev)
}

// LogNotifier writes one log line per due reminder.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev model.Event) error {
	appLog.Info("reminder due",
		"id", ev.ID,
		"title", ev.Title,
		"start_time", ev.Start.Format(time.DateTime),
		"location", ev.Location,
		"reminder_minutes", ev.ReminderMinutes,
	)
	return nil
}

// Poller runs DueReminders on a cron schedule.
type Poller struct {
	src      Source
	notifier Notifier
	spec     string
	loc      *time.Location
	clock    func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

func WithNotifier(n Notifier) Option {
	return func(p *Poller) { p.notifier = n }
}

func WithClock(clock func() time.Time) Option {
	return func(p *Poller) { p.clock = clock }
}

// WithLocation sets the zone the cron schedule is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(p *Poller) { p.loc = loc }
}

// NewPoller validates spec (standard 5-field cron syntax) and returns a
// poller that is not yet running.
func NewPoller(src Source, spec string, opts ...Option) (*Poller, error) {
	if src == nil {
		return nil, errors.New("reminder: source is nil")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("reminder: invalid schedule %q: %w", spec, err)
	}
	p := &Poller{
		src:      src,
		notifier: LogNotifier{},
		spec:     spec,
		loc:      time.Local,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls on schedule until ctx is canceled, then waits for an
// in-flight poll to finish.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(p.loc))
	if _, err := c.AddFunc(p.spec, func() { p.Poll(ctx) }); err != nil {
		return err
	}

	appLog.Info("reminder poller started", "schedule", p.spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("reminder poller stopped")
	return nil
}

// Poll checks for due reminders once and hands each to the notifier.
// It returns the number of due reminders found.
func (p *Poller) Poll(ctx context.Context) int {
	now := p.clock()
	due := p.src.DueReminders(now)
	if len(due) == 0 {
		appLog.Debug("no reminders due", "now", now.Format(time.DateTime))
		return 0
	}
	metrics.AddDueReminders(len(due))

	for _, ev := range due {
		if err := p.notifier.Notify(ctx, ev); err != nil {
			appLog.Error("reminder notify failed", err, "id", ev.ID)
		}
	}
	return len(due)
}
