package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/services/api"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler"
)

const usage = `usage: watchctl [-addr URL] <command>

commands:
  due          list active targets, due ones first
  check <id>   run one check now and print the result
  health       print the watcher health probe
`

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return resp.StatusCode, errors.New(e.Error)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return resp.StatusCode, json.Unmarshal(body, out)
}

func main() {
	addr := flag.String("addr", envOr("PAGEWATCH_ADDR", "http://localhost:8081"), "watcher base URL")
	timeout := flag.Duration("timeout", 3*time.Minute, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := &client{base: strings.TrimRight(*addr, "/"), http: &http.Client{}}

	var err error
	switch args[0] {
	case "due":
		err = due(ctx, c)
	case "check":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = check(ctx, c, args[1])
	case "health":
		var healthy bool
		healthy, err = health(ctx, c)
		if err == nil && !healthy {
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "watchctl:", err)
		os.Exit(1)
	}
}

func due(ctx context.Context, c *client) error {
	var list []scheduler.DueEntry
	if _, err := c.do(ctx, http.MethodGet, "/v1/targets/due", &list); err != nil {
		return err
	}
	return renderDue(os.Stdout, list, time.Now())
}

// renderDue prints the listing; rows of failing targets are red when the
// output is a terminal.
func renderDue(w io.Writer, list []scheduler.DueEntry, now time.Time) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{Borders: tw.BorderNone})),
	)
	table.Header("ID", "Name", "Mode", "Last checked", "Next due", "Due", "Failures")

	failing := color.New(color.FgRed).SprintFunc()
	for _, e := range list {
		last := "never"
		if e.LastCheckedAt != nil {
			last = e.LastCheckedAt.Local().Format(time.DateTime)
		}
		next := "now"
		if e.NextDueAt.After(now) {
			next = "in " + e.NextDueAt.Sub(now).Round(time.Second).String()
		}
		dueCol := "no"
		switch {
		case e.InFlight:
			dueCol = "running"
		case e.Due:
			dueCol = "yes"
		}
		name := e.Name
		if name == "" {
			name = e.URL
		}
		row := []string{strconv.FormatInt(e.ID, 10), name, string(e.Mode), last, next, dueCol, strconv.Itoa(e.FailureCount)}
		if e.FailureCount > 0 {
			for i := range row {
				row[i] = failing(row[i])
			}
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("table row %d: %w", e.ID, err)
		}
	}
	return table.Render()
}

func check(ctx context.Context, c *client, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("bad target id %q", arg)
	}
	var rec history.Record
	if _, err := c.do(ctx, http.MethodPost, "/v1/targets/"+strconv.FormatInt(id, 10)+"/check", &rec); err != nil {
		return err
	}
	printRecord(os.Stdout, &rec)
	return nil
}

func printRecord(w io.Writer, rec *history.Record) {
	fmt.Fprintf(w, "target %d: %s\n", rec.TargetID, rec.Status)
	if rec.Value != "" {
		fmt.Fprintf(w, "value:   %s\n", clip(rec.Value, 200))
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "error:   %s (%s)\n", rec.Error, rec.ErrorKind)
	}
	if rec.Summary != "" {
		fmt.Fprintf(w, "summary: %s\n", rec.Summary)
	}
	if rec.Screenshots.Diff != "" {
		fmt.Fprintf(w, "diff:    %s\n", rec.Screenshots.Diff)
	}
}

func health(ctx context.Context, c *client) (bool, error) {
	var rep api.HealthReport
	if _, err := c.do(ctx, http.MethodGet, "/v1/health", &rep); err != nil {
		return false, err
	}
	out, _ := json.MarshalIndent(rep, "", "  ")
	fmt.Println(string(out))
	return rep.Healthy, nil
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
