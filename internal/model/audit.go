package model

import "time"

type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
	Actor      string    `json:"actor,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	Details    any       `json:"details,omitempty"`
}

type AuditQuery struct {
	Action string
	Actor  string
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// Normalize clamps paging to the supported window.
func (q AuditQuery) Normalize() AuditQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	return q
}

func NewMeta(page int, limit int, total int) Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
