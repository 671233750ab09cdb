package notification

import (
	"context"
	"time"
)

// Notification is a sent e-mail as recorded by the notifier.
type Notification struct {
	ID       int64     `json:"id"`
	TargetID int64     `json:"target_id"`
	UserID   int64     `json:"user_id"`
	Type     string    `json:"type"`
	SentAt   time.Time `json:"sent_at"`
	Payload  string    `json:"payload"`
}

type ArtifactKind string

const (
	ArtifactTextDiff ArtifactKind = "text_diff"
	ArtifactImage    ArtifactKind = "image_diff"
)

// Artifact is the rendered representation of a change. Text diffs travel
// inline, image diffs by screenshot-store key.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Text string       `json:"text,omitempty"`
	Key  string       `json:"key,omitempty"`
}

// ChangeNotice is what the check pipeline hands to the dispatcher.
type ChangeNotice struct {
	TargetID  int64     `json:"target_id"`
	UserID    int64     `json:"user_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	PlainBody string    `json:"plain_body"`
	HTMLBody  string    `json:"html_body"`
	Artifact  Artifact  `json:"artifact"`
	At        time.Time `json:"at"`
}

type Dispatcher interface {
	Notify(ctx context.Context, n ChangeNotice) error
}

type Summarizer interface {
	Summarize(ctx context.Context, oldState, newState, hint string) (string, error)
}

type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

type Email struct {
	To         string
	Subject    string
	PlainBody  string
	HTMLBody   string
	Attachment *Attachment
}

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Clock interface {
	Now() time.Time
}
