package anomaly

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseMetric coerces a raw metric cell to float64. Warehouse drivers return
// NUMERIC columns as text or bytes, so decimal representations are parsed
// exactly before conversion. The second return is false for NULL, unparsable
// and non-finite values; callers store those as missing.
func ParseMetric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return math.NaN(), false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case decimal.Decimal:
		f = x.InexactFloat64()
	case *decimal.Decimal:
		if x == nil {
			return math.NaN(), false
		}
		f = x.InexactFloat64()
	case decimal.NullDecimal:
		if !x.Valid {
			return math.NaN(), false
		}
		f = x.Decimal.InexactFloat64()
	case []byte:
		return parseDecimalString(string(x))
	case string:
		return parseDecimalString(x)
	default:
		return math.NaN(), false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return math.NaN(), false
	}
	return f, true
}

func parseDecimalString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN(), false
	}
	return d.InexactFloat64(), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp coerces a raw time cell to time.Time.
func ParseTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x != nil {
			return *x, nil
		}
	case []byte:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %v (%T)", v, v)
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timestampLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

// formatKey renders one group-key cell. ok is false for NULL cells.
func formatKey(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	default:
		return fmt.Sprint(x), true
	}
}
