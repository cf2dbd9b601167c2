package anomaly

import (
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/timeseries"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)


// timestampCacheSize bounds the distinct text timestamps memoized per call.
const timestampCacheSize = 4096

// timestampCache memoizes text timestamp parsing across rows.
type timestampCache struct {
	cache *lru.Cache[string, time.Time]
}

func newTimestampCache() *timestampCache {
	c, _ := lru.New[string, time.Time](timestampCacheSize)
	return &timestampCache{cache: c}
}

func (c *timestampCache) parse(v any) (time.Time, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return ParseTimestamp(v)
	}
	if ts, ok := c.cache.Get(s); ok {
		return ts, nil
	}
	ts, err := parseTimeString(s)
	if err != nil {
		return ts, err
	}
	c.cache.Add(s, ts)
	return ts, nil
}

// groupStats counts per-row problems found while grouping.
type groupStats struct {
	coercionFailures int
	droppedRows      int
}

type pendingRow struct {
	row int
	ts  time.Time
}

type pendingGroup struct {
	key  []string
	rows []pendingRow
}

// GroupFrame partitions frame by the key columns and returns one series per
// distinct key, each sorted ascending by timestamp with ties kept in input
// order. Series are returned in ascending key order. Metric values are parsed
// once here; failures are stored as NaN.
func GroupFrame(frame *models.Frame, groupFields []string, timeField string, metricFields []string) ([]*timeseries.Series, error) {
	series, _, err := groupFrame(frame, groupFields, timeField, metricFields)
	return series, err
}

func groupFrame(frame *models.Frame, groupFields []string, timeField string, metricFields []string) ([]*timeseries.Series, groupStats, error) {
	var st groupStats
	if frame.Len() == 0 {
		return nil, st, nil
	}

	required := make([]string, 0, len(groupFields)+1+len(metricFields))
	required = append(required, groupFields...)
	required = append(required, timeField)
	required = append(required, metricFields...)
	if missing := frame.MissingColumns(required...); len(missing) > 0 {
		return nil, st, &SchemaError{Missing: missing, Available: append([]string(nil), frame.Columns...)}
	}

	keyIdx := make([]int, len(groupFields))
	for i, f := range groupFields {
		keyIdx[i] = frame.ColumnIndex(f)
	}
	timeIdx := frame.ColumnIndex(timeField)
	metricIdx := make([]int, len(metricFields))
	for i, f := range metricFields {
		metricIdx[i] = frame.ColumnIndex(f)
	}

	byKey := make(map[string]*pendingGroup)
	var groups []*pendingGroup
	timestamps := newTimestampCache()
	for r, row := range frame.Rows {
		key, ok := rowKey(row, keyIdx)
		if !ok {
			st.droppedRows++
			continue
		}
		ts, err := timestamps.parse(row[timeIdx])
		if err != nil {
			st.droppedRows++
			continue
		}
		mk := groupMapKey(key)
		g, ok := byKey[mk]
		if !ok {
			g = &pendingGroup{key: key}
			byKey[mk] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, pendingRow{row: r, ts: ts})
	}

	sort.SliceStable(groups, func(i, j int) bool { return lessKey(groups[i].key, groups[j].key) })

	out := make([]*timeseries.Series, 0, len(groups))
	values := make([]float64, len(metricIdx))
	for _, g := range groups {
		sort.SliceStable(g.rows, func(i, j int) bool { return g.rows[i].ts.Before(g.rows[j].ts) })

		s := timeseries.NewSeries(g.key, len(metricIdx), len(g.rows))
		for _, pr := range g.rows {
			row := frame.Rows[pr.row]
			for m, ci := range metricIdx {
				v, ok := ParseMetric(row[ci])
				if !ok && row[ci] != nil {
					st.coercionFailures++
				}
				values[m] = v
			}
			if err := s.Append(pr.row, pr.ts, values); err != nil {
				return nil, st, err
			}
		}
		out = append(out, s)
	}
	return out, st, nil
}

// groupMapKey encodes key cells with a length prefix each, so no cell content
// can make two distinct keys collide.
func groupMapKey(key []string) string {
	var b strings.Builder
	for _, k := range key {
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
	}
	return b.String()
}

func rowKey(row []any, keyIdx []int) ([]string, bool) {
	key := make([]string, len(keyIdx))
	for i, ci := range keyIdx {
		s, ok := formatKey(row[ci])
		if !ok {
			return nil, false
		}
		key[i] = s
	}
	return key, true
}

func lessKey(a, b []string) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
