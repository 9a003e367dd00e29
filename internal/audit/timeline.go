package audit

import "time"

// TimelineFilters holds the filter inputs for the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Subject  int64
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one line of the audit timeline.
type TimelineRow struct {
	At      time.Time
	ActorID int64
	Action  string
	Subject int64
	Before  map[string]any
	After   map[string]any
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}
