package audit

import (
	"time"

	"github.com/google/uuid"
)

// TimelineFilters narrows the ledger audit trail. Zero values match everything.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    uuid.UUID
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one recorded ledger event.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	Actor    uuid.UUID      `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo describes the window returned by Timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Query is the repository form of TimelineFilters. Limit zero means no limit.
type Query struct {
	From     time.Time
	To       time.Time
	Actor    uuid.UUID
	Entity   string
	EntityID string
	Action   string
	Offset   int
	Limit    int
}
