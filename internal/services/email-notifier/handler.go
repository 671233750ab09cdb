package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/services/email-notifier/repo"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Handler struct {
	Store   repo.NotificationRepo
	Screens repo.Screens
	Out     notification.EmailSender
	Clock   notification.Clock
	Log     *zap.Logger
}

func NewHandler(store repo.NotificationRepo, screens repo.Screens, out notification.EmailSender, log *zap.Logger) *Handler {
	return &Handler{
		Store:   store,
		Screens: screens,
		Out:     out,
		Clock:   systemClock{},
		Log:     log.With(zap.String("component", "notifier.handler")),
	}
}

// HandleChange mails one change notice and records it. A missing image
// artifact downgrades the mail to bodies only.
func (h *Handler) HandleChange(ctx context.Context, n notification.ChangeNotice) error {
	log := h.Log.With(zap.Int64("target_id", n.TargetID))

	mail := notification.Email{
		To:        n.To,
		Subject:   n.Subject,
		PlainBody: n.PlainBody,
		HTMLBody:  n.HTMLBody,
	}
	switch n.Artifact.Kind {
	case notification.ArtifactImage:
		if n.Artifact.Key == "" {
			break
		}
		data, err := h.Screens.Get(n.Artifact.Key)
		if err != nil {
			log.Warn("diff image unavailable, sending without it", zap.String("key", n.Artifact.Key), zap.Error(err))
			break
		}
		mail.Attachment = &notification.Attachment{Name: "diff.png", ContentType: "image/png", Data: data}
	case notification.ArtifactTextDiff:
		if n.Artifact.Text != "" {
			mail.Attachment = &notification.Attachment{
				Name: "changes.diff", ContentType: "text/x-diff; charset=utf-8", Data: []byte(n.Artifact.Text),
			}
		}
	}

	if err := h.Out.Send(ctx, mail); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if err := h.Store.Create(ctx, &notification.Notification{
		TargetID: n.TargetID,
		UserID:   n.UserID,
		Type:     "email",
		SentAt:   h.Clock.Now().UTC(),
		Payload:  n.PlainBody,
	}); err != nil {
		// the mail is out; redelivery would send it twice
		log.Warn("record notification", zap.Error(err))
	}
	return nil
}
