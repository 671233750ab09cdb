package pipeline

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
)

var htmlBody = template.Must(template.New("notice").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p><a href="{{.URL}}">{{.URL}}</a> changed at {{.At}}.</p>
{{if .Summary}}<p><b>Summary:</b> {{.Summary}}</p>{{end}}
{{if .Diff}}<pre style="background:#f6f8fa;padding:8px">{{.Diff}}</pre>{{end}}
{{if .Image}}<p>The highlighted difference image is attached.</p>{{end}}
</body></html>`))

type noticeView struct {
	Title   string
	URL     string
	At      string
	Summary string
	Diff    string
	Image   bool
}

func title(t *target.Target) string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// buildNotice renders the subject and both bodies of a change notification.
func buildNotice(t *target.Target, to string, art notification.Artifact, summary string, at time.Time) (notification.ChangeNotice, error) {
	view := noticeView{
		Title:   title(t),
		URL:     t.URL,
		At:      at.UTC().Format(time.RFC1123),
		Summary: summary,
		Diff:    art.Text,
		Image:   art.Kind == notification.ArtifactImage,
	}

	var plain strings.Builder
	fmt.Fprintf(&plain, "%s changed at %s.\n\n%s\n", view.Title, view.At, t.URL)
	if summary != "" {
		fmt.Fprintf(&plain, "\nSummary: %s\n", summary)
	}
	if art.Text != "" {
		fmt.Fprintf(&plain, "\n%s\n", art.Text)
	}
	if view.Image {
		plain.WriteString("\nThe highlighted difference image is attached.\n")
	}

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, view); err != nil {
		return notification.ChangeNotice{}, fmt.Errorf("render notice: %w", err)
	}

	return notification.ChangeNotice{
		TargetID:  t.ID,
		UserID:    t.UserID,
		To:        to,
		Subject:   "Change detected: " + view.Title,
		PlainBody: plain.String(),
		HTMLBody:  html.String(),
		Artifact:  art,
		At:        at,
	}, nil
}
