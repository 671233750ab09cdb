package postgres

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
