package history

import "time"

type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusChanged   Status = "changed"
	StatusError     Status = "error"
)

type Screenshots struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

func (s Screenshots) Empty() bool {
	return s.Previous == "" && s.Current == "" && s.Diff == ""
}

type Record struct {
	ID          int64       `json:"id"`
	TargetID    int64       `json:"target_id"`
	Status      Status      `json:"status"`
	Value       string      `json:"value,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Screenshots Screenshots `json:"screenshots"`
	Summary     string      `json:"summary,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
