package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/db"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/report"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PINGANOMALY_SOURCE_POSTGRES_URL", "")
	t.Setenv("DB_HOST", "")

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	root := NewRootCommandWithIO(out, errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

// seedStore writes one parametric result with a single latency spike and one
// run record into a new database file.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := db.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	t0 := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	f := models.NewFrame("isp", "account_login_vqt", "server_name", "testing_time",
		"mean_jitter", "mean_average_latency", "mean_packet_loss_rate")
	for i := 0; i < 8; i++ {
		lat := 20.0
		if i == 7 {
			lat = 180
		}
		f.Append("Viettel", "HN_Agent01", "HN Speedtest", t0.Add(time.Duration(i)*time.Hour), 1.0, lat, 0.0)
	}
	res, err := anomaly.Detect(context.Background(), f, anomaly.Params{
		Window:       4,
		Threshold:    3.5,
		GroupFields:  []string{"isp", "account_login_vqt", "server_name"},
		TimeField:    "testing_time",
		MetricFields: []string{"mean_jitter", "mean_average_latency", "mean_packet_loss_rate"},
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, err := store.ReplaceAnomalies(context.Background(), "ping_anomaly_zscore", res); err != nil {
		t.Fatalf("ReplaceAnomalies: %v", err)
	}
	if err := store.RecordRun(context.Background(), &db.RunRecord{
		Estimator: "zscore", Window: 4, Threshold: 3.5, ResultTable: "ping_anomaly_zscore",
		Anomalies: 1, Status: db.RunStatusSuccess, StartedAt: t0, FinishedAt: t0.Add(time.Second),
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "pinganomaly ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestDetectRequiresSource(t *testing.T) {
	_, err := execute(t, "detect")
	if err == nil || !strings.Contains(err.Error(), "source.postgres_url") {
		t.Fatalf("expected missing postgres_url error, got %v", err)
	}
}

func TestDetectRejectsInvalidFlags(t *testing.T) {
	_, err := execute(t, "detect", "--window", "0", "--estimator", "ewma")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"detection.window", "detection.estimator"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got %v", want, err)
		}
	}
}

func TestDetectRejectsTargetTime(t *testing.T) {
	t.Setenv("PINGANOMALY_SOURCE_POSTGRES_URL", "postgres://reader@localhost:5432/iquality?sslmode=disable")
	out := &bytes.Buffer{}
	root := NewRootCommandWithIO(out, out)
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "detect", "--target-time", "next tuesday"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--target-time") {
		t.Fatalf("expected --target-time error, got %v", err)
	}
}

func TestReportCommand(t *testing.T) {
	path := seedStore(t)

	out, err := execute(t, "report", "--sqlite-path", path, "--min-severity", "high")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	var sum report.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("invalid report JSON %q: %v", out, err)
	}
	if sum.Rows != 1 || len(sum.Findings) != 1 {
		t.Fatalf("expected one row and one finding, got %+v", sum)
	}
	f := sum.Findings[0]
	if f.Metric != "mean_average_latency" || f.Severity != report.SeverityHigh || f.Server != "HN Speedtest" {
		t.Fatalf("unexpected finding: %+v", f)
	}
	if sum.ByISP["Viettel"] != 1 {
		t.Fatalf("unexpected ISP counts: %v", sum.ByISP)
	}
}

func TestReportCommandFilters(t *testing.T) {
	path := seedStore(t)

	out, err := execute(t, "report", "--sqlite-path", path, "--server", "HCM Speedtest")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	var sum report.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("invalid report JSON: %v", err)
	}
	if sum.Rows != 0 || len(sum.Findings) != 0 {
		t.Fatalf("expected no rows for another server, got %+v", sum)
	}

	if _, err := execute(t, "report", "--sqlite-path", path, "--min-severity", "critical"); err == nil {
		t.Fatal("expected invalid severity to fail")
	}
	if _, err := execute(t, "report", "--sqlite-path", path, "--from", "someday"); err == nil {
		t.Fatal("expected invalid --from to fail")
	}
}

func TestRunsCommand(t *testing.T) {
	path := seedStore(t)

	out, err := execute(t, "runs", "--sqlite-path", path)
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	var runs []db.RunRecord
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid runs JSON %q: %v", out, err)
	}
	if len(runs) != 1 || runs[0].ResultTable != "ping_anomaly_zscore" || runs[0].ID == "" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestRunsCommandYAML(t *testing.T) {
	path := seedStore(t)

	out, err := execute(t, "runs", "--sqlite-path", path, "-o", "yaml")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	var runs []map[string]any
	if err := yaml.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid runs YAML %q: %v", out, err)
	}
	if len(runs) != 1 || runs[0]["result_table"] != "ping_anomaly_zscore" {
		t.Fatalf("unexpected runs: %v", runs)
	}

	if _, err := execute(t, "runs", "--sqlite-path", path, "-o", "xml"); err == nil {
		t.Fatal("expected unsupported output format to fail")
	}
}
