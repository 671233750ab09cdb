//go:build integration

package integration

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
)

func TestNotifier_MailsChangeEvent(t *testing.T) {
	cfg := LoadCfg()
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangesTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID := time.Now().UnixNano() % 1_000_000
	email := fmt.Sprintf("it-%d@example.com", userID)
	id := SeedTargetRow(t, db, SeedTarget{UserID: userID, Name: "IT shop", URL: cfg.SiteURL, Mode: "text", NotifyEmail: email})

	PublishJSON(t, cfg.KafkaBootstrap, cfg.ChangesTopic, KeyFromInt64(id), notification.ChangeNotice{
		TargetID:  id,
		UserID:    userID,
		To:        email,
		Subject:   "Change detected: IT shop",
		PlainBody: "IT shop changed.",
		HTMLBody:  "<p>IT shop changed.</p>",
		Artifact:  notification.Artifact{Kind: notification.ArtifactTextDiff, Text: "-old\n+new\n"},
		At:        time.Now().UTC(),
	})

	rep := WaitMailhogCount(t, cfg.MailhogAPI, 1, 25*time.Second)
	require.NotEmpty(t, rep.Items, "no mail")
	subj := ""
	if v := rep.Items[0].Content.Headers["Subject"]; len(v) > 0 {
		subj = v[0]
	}
	require.True(t, strings.Contains(subj, "Change detected: IT shop"), "bad subject: %q", subj)
	require.Contains(t, rep.Items[0].Content.Body, "changes.diff")

	require.Eventually(t, func() bool {
		ok, _ := FindNotification(t, db, userID, id)
		return ok
	}, 10*time.Second, 250*time.Millisecond, "notification not stored")
}

func TestNotifier_EventWithoutRecipientIgnored(t *testing.T) {
	cfg := LoadCfg()
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangesTopic)

	PublishJSON(t, cfg.KafkaBootstrap, cfg.ChangesTopic, []byte("0"), notification.ChangeNotice{
		TargetID: 42,
		Subject:  "Change detected: nobody",
	})
	ExpectNoMailhog(t, cfg.MailhogAPI, 6*time.Second)
}
