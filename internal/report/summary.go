package report

// Package report turns a stored anomaly table into per-metric findings with
// severity bands and aggregate counts, the input of the daily quality report.

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// scoreSuffixes are the score column suffixes of both estimators.
var scoreSuffixes = []string{"__robust_z", "__z"}

// Options control which scores become findings.
type Options struct {
	// Metrics restricts the scored metrics. Empty means every column with a
	// score suffix.
	Metrics []string
	// MinSeverity drops findings below this band. Defaults to medium.
	MinSeverity Severity
	// TimeField, ISPField, AgentField and ServerField name the identifying
	// columns. Defaults: testing_time, isp, account_login_vqt, server_name.
	TimeField   string
	ISPField    string
	AgentField  string
	ServerField string
}

// Finding is one metric of one stored anomaly row.
type Finding struct {
	Time     time.Time `json:"testing_time" yaml:"testing_time"`
	ISP      string    `json:"isp,omitempty" yaml:"isp,omitempty"`
	Agent    string    `json:"account_login_vqt,omitempty" yaml:"account_login_vqt,omitempty"`
	Server   string    `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	Metric   string    `json:"metric" yaml:"metric"`
	Value    *float64  `json:"value" yaml:"value"`
	Z        float64   `json:"z" yaml:"z"`
	Severity Severity  `json:"severity" yaml:"severity"`
}

// Summary aggregates findings.
type Summary struct {
	Rows     int              `json:"rows" yaml:"rows"`
	Findings []Finding        `json:"findings" yaml:"findings"`
	ByBand   map[Severity]int `json:"by_band" yaml:"by_band"`
	ByISP    map[string]int   `json:"by_isp" yaml:"by_isp"`
	ByServer map[string]int   `json:"by_server" yaml:"by_server"`
	ByMetric map[string]int   `json:"by_metric" yaml:"by_metric"`
}

type scoreColumn struct {
	metric string
	value  int // -1 when the raw metric column is absent
	score  int
}

// Summarize bands every score in frame. Findings are ordered by time, then
// server, then metric.
func Summarize(frame *models.Frame, opts Options) (*Summary, error) {
	opts = opts.withDefaults()

	sum := &Summary{
		Findings: []Finding{},
		ByBand:   map[Severity]int{},
		ByISP:    map[string]int{},
		ByServer: map[string]int{},
		ByMetric: map[string]int{},
	}
	if frame == nil || len(frame.Columns) == 0 {
		return sum, nil
	}

	cols, err := scoreColumns(frame, opts.Metrics)
	if err != nil {
		return nil, err
	}

	ti := frame.ColumnIndex(opts.TimeField)
	ii := frame.ColumnIndex(opts.ISPField)
	ai := frame.ColumnIndex(opts.AgentField)
	si := frame.ColumnIndex(opts.ServerField)

	sum.Rows = frame.Len()
	for _, row := range frame.Rows {
		var ts time.Time
		if ti >= 0 {
			ts, _ = anomaly.ParseTimestamp(row[ti])
		}
		isp, agent, server := cell(row, ii), cell(row, ai), cell(row, si)

		for _, c := range cols {
			z, ok := anomaly.ParseMetric(row[c.score])
			if !ok {
				continue
			}
			band := Band(z)
			if band == SeverityNone || !band.AtLeast(opts.MinSeverity) {
				continue
			}
			f := Finding{Time: ts, ISP: isp, Agent: agent, Server: server, Metric: c.metric, Z: z, Severity: band}
			if c.value >= 0 {
				if v, ok := anomaly.ParseMetric(row[c.value]); ok {
					f.Value = &v
				}
			}
			sum.Findings = append(sum.Findings, f)
			sum.ByBand[band]++
			sum.ByMetric[c.metric]++
			if isp != "" {
				sum.ByISP[isp]++
			}
			if server != "" {
				sum.ByServer[server]++
			}
		}
	}

	sort.SliceStable(sum.Findings, func(i, j int) bool {
		a, b := sum.Findings[i], sum.Findings[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Server != b.Server {
			return a.Server < b.Server
		}
		return a.Metric < b.Metric
	})
	return sum, nil
}

func (o Options) withDefaults() Options {
	if o.MinSeverity == "" {
		o.MinSeverity = SeverityMedium
	}
	if o.TimeField == "" {
		o.TimeField = "testing_time"
	}
	if o.ISPField == "" {
		o.ISPField = "isp"
	}
	if o.AgentField == "" {
		o.AgentField = "account_login_vqt"
	}
	if o.ServerField == "" {
		o.ServerField = "server_name"
	}
	return o
}

func scoreColumns(frame *models.Frame, metrics []string) ([]scoreColumn, error) {
	var out []scoreColumn
	if len(metrics) == 0 {
		for i, name := range frame.Columns {
			for _, suf := range scoreSuffixes {
				if m, ok := strings.CutSuffix(name, suf); ok && m != "" {
					out = append(out, scoreColumn{metric: m, value: frame.ColumnIndex(m), score: i})
					break
				}
			}
		}
		return out, nil
	}

	for _, m := range metrics {
		idx := -1
		for _, suf := range scoreSuffixes {
			if idx = frame.ColumnIndex(m + suf); idx >= 0 {
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("no score column for metric %q", m)
		}
		out = append(out, scoreColumn{metric: m, value: frame.ColumnIndex(m), score: idx})
	}
	return out, nil
}

func cell(row []any, i int) string {
	if i < 0 || row[i] == nil {
		return ""
	}
	switch x := row[i].(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(row[i])
}
