package query

import (
	"time"
)

// SummaryItem is the condensed form of one upcoming event.
type SummaryItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location"`
}

// Summary is an overview of the next few days.
type Summary struct {
	TotalEvents    int                      `json:"total_events"`
	UpcomingEvents int                      `json:"upcoming_events"`
	EventsByDate   map[string][]SummaryItem `json:"events_by_date"`
	// NextEvent is the title of the first upcoming event, empty if none.
	NextEvent string `json:"next_event"`
}

// Summary groups the upcoming events of the next days by ISO date.
func (e *Engine) Summary(now time.Time, days int) Summary {
	all := e.src.Snapshot()
	upcoming := e.Upcoming(now, days)

	s := Summary{
		TotalEvents:    len(all),
		UpcomingEvents: len(upcoming),
		EventsByDate:   make(map[string][]SummaryItem),
	}
	for _, ev := range upcoming {
		key := ev.Start.Format(time.DateOnly)
		s.EventsByDate[key] = append(s.EventsByDate[key], SummaryItem{
			ID:        ev.ID,
			Title:     ev.Title,
			StartTime: ev.Start.Format("15:04"),
			EndTime:   ev.End.Format("15:04"),
			Location:  ev.Location,
		})
	}
	if len(upcoming) > 0 {
		s.NextEvent = upcoming[0].Title
	}
	return s
}
