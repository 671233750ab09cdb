package target

import (
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeText   Mode = "text"
	ModeVisual Mode = "visual"
	ModePrice  Mode = "price"
)

// Kind is the effective extraction semantics derived from Mode and Selector.
type Kind string

const (
	KindSelectorText Kind = "selector_text"
	KindFullPage     Kind = "full_page"
	KindVisual       Kind = "visual"
	KindPrice        Kind = "price"
)

type Predicate string

const (
	Contains    Predicate = "contains"
	NotContains Predicate = "not_contains"
)

type Rule struct {
	Predicate Predicate `json:"predicate"`
	Value     string    `json:"value"`
}

type RetryPolicy struct {
	Attempts int           `json:"attempts"`
	Delay    time.Duration `json:"delay"`
}

type PriceBounds struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`
}

type Target struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	Mode        Mode          `json:"mode"`
	Selector    string        `json:"selector,omitempty"`
	Interval    time.Duration `json:"interval"`
	Active      bool          `json:"active"`
	Retry       RetryPolicy   `json:"retry"`
	Rules       []Rule        `json:"rules,omitempty"`
	Price       PriceBounds   `json:"price"`
	Currency    string        `json:"currency,omitempty"`
	NotifyEmail string        `json:"notify_email,omitempty"`

	HasBaseline    bool       `json:"has_baseline"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
	LastValue      string     `json:"last_value,omitempty"`
	LastScreenshot string     `json:"last_screenshot,omitempty"`
	LastDiff       string     `json:"last_diff,omitempty"`
	FailureCount   int        `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Kind resolves which of the mutually exclusive check semantics applies.
func (t *Target) Kind() Kind {
	switch t.Mode {
	case ModeVisual:
		return KindVisual
	case ModePrice:
		return KindPrice
	default:
		if t.Selector == "" {
			return KindFullPage
		}
		return KindSelectorText
	}
}

// NextDue returns the zero time for a target that was never checked.
func (t *Target) NextDue() time.Time {
	if t.LastCheckedAt == nil {
		return time.Time{}
	}
	return t.LastCheckedAt.Add(t.Interval)
}

// IsDue reports whether the target should be checked at now.
func (t *Target) IsDue(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.LastCheckedAt == nil {
		return true
	}
	return !now.Before(t.NextDue())
}

// State is the part of a target the check pipeline is allowed to write.
type State struct {
	TargetID       int64
	HasBaseline    bool
	LastCheckedAt  time.Time
	LastValue      string
	LastScreenshot string
	LastDiff       string
	FailureCount   int
}

// State snapshots the pipeline-owned fields.
func (t *Target) State() State {
	s := State{
		TargetID:       t.ID,
		HasBaseline:    t.HasBaseline,
		LastValue:      t.LastValue,
		LastScreenshot: t.LastScreenshot,
		LastDiff:       t.LastDiff,
		FailureCount:   t.FailureCount,
	}
	if t.LastCheckedAt != nil {
		s.LastCheckedAt = *t.LastCheckedAt
	}
	return s
}

// Apply copies a persisted state back onto the target.
func (t *Target) Apply(s State) {
	at := s.LastCheckedAt
	t.HasBaseline = s.HasBaseline
	t.LastCheckedAt = &at
	t.LastValue = s.LastValue
	t.LastScreenshot = s.LastScreenshot
	t.LastDiff = s.LastDiff
	t.FailureCount = s.FailureCount
}
