package studio

import (
	"encoding/base64"
	"strings"
	"time"

	"lumen.studio/internal/auth"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Page asks for one window of a listing. A zero Limit means DefaultPageSize;
// larger than MaxPageSize is clamped.
type Page struct {
	Limit  int
	Cursor string
}

// TimeEntryPage is one window of entries. NextCursor is empty on the last
// page.
type TimeEntryPage struct {
	Entries    []TimeEntry `json:"time_logs"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Cursor is the position of the last entry of a page in
// (work_date desc, id desc) order.
type Cursor struct {
	WorkDate string
	ID       string
}

func (c Cursor) Encode() string {
	return base64.RawURLEncoding.EncodeToString([]byte(c.WorkDate + "|" + c.ID))
}

// DecodeCursor parses a cursor produced by Encode.
func DecodeCursor(raw string) (*Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, auth.ValidationError("invalid cursor")
	}
	date, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return nil, auth.ValidationError("invalid cursor")
	}
	if _, err := time.Parse(workDateLayout, date); err != nil {
		return nil, auth.ValidationError("invalid cursor")
	}
	return &Cursor{WorkDate: date, ID: id}, nil
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return p.Limit
	}
}
