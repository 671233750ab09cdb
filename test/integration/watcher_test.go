//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/services/api"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler"
)

func TestWatcher_CheckNowBaselineThenUnchanged(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.WatcherBase+"/healthz", 60*time.Second)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	id := SeedTargetRow(t, db, SeedTarget{UserID: 1, Name: "echo", URL: cfg.SiteURL, Mode: "text", Selector: "body"})
	url := fmt.Sprintf("%s/v1/targets/%d/check", cfg.WatcherBase, id)

	var first history.Record
	require.NoError(t, json.Unmarshal(HTTPDoJSON(t, http.MethodPost, url, http.StatusOK), &first))
	assert.Equal(t, history.StatusUnchanged, first.Status)
	assert.NotEmpty(t, first.Value)

	hasBaseline, failures, lastValue := TargetState(t, db, id)
	assert.True(t, hasBaseline)
	assert.Zero(t, failures)
	assert.Equal(t, first.Value, lastValue)

	var second history.Record
	require.NoError(t, json.Unmarshal(HTTPDoJSON(t, http.MethodPost, url, http.StatusOK), &second))
	assert.Equal(t, history.StatusUnchanged, second.Status)
	assert.Equal(t, 2, CountHistory(t, db, id))
}

func TestWatcher_MissingSelectorIsRecorded(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	id := SeedTargetRow(t, db, SeedTarget{UserID: 1, URL: cfg.SiteURL, Mode: "text", Selector: "#does-not-exist"})

	var rec history.Record
	body := HTTPDoJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/targets/%d/check", cfg.WatcherBase, id), http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, history.StatusError, rec.Status)
	assert.Equal(t, "element_not_found", rec.ErrorKind)

	_, failures, _ := TargetState(t, db, id)
	assert.Equal(t, 1, failures)
}

func TestWatcher_UnknownTarget(t *testing.T) {
	cfg := LoadCfg()
	HTTPDoJSON(t, http.MethodPost, cfg.WatcherBase+"/v1/targets/999999999/check", http.StatusNotFound)
}

func TestWatcher_DueAndHealth(t *testing.T) {
	cfg := LoadCfg()

	var due []scheduler.DueEntry
	require.NoError(t, json.Unmarshal(HTTPDoJSON(t, http.MethodGet, cfg.WatcherBase+"/v1/targets/due", http.StatusOK), &due))

	resp, err := http.Get(cfg.WatcherBase + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rep api.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Positive(t, rep.Pool.Total)
}
