package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

// HighVariabilityCV is the coefficient of variation above which a column
// gets a variability note.
const HighVariabilityCV = 0.3

// Renderer turns aggregated groups into the text that gets embedded. Output
// depends only on the inputs.
type Renderer struct {
	names *Names
}

// New builds a renderer that knows every column a strategy may reference, so
// display names are disambiguated consistently across strategies.
func New(columns []string) *Renderer {
	return &Renderer{names: NewNames(columns)}
}

// Names exposes the display name mapping used by this renderer.
func (r *Renderer) Names() *Names {
	return r.names
}

// ResolveColumn maps a display name that appears in rendered text back to
// its column.
func (r *Renderer) ResolveColumn(display string) (string, bool) {
	return r.names.Resolve(display)
}

func (r *Renderer) Render(s strategy.Strategy, g insight.Group) (string, error) {
	if len(g.Keys) != len(s.GroupKeys) {
		return "", fmt.Errorf("strategy %s: group has %d key values, expected %d", s.Name, len(g.Keys), len(s.GroupKeys))
	}

	var b strings.Builder

	parts := make([]string, len(s.GroupKeys))
	for i, k := range s.GroupKeys {
		label, value, err := r.groupKey(k, g.Keys[i])
		if err != nil {
			return "", fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		parts[i] = label + ": " + value
	}
	b.WriteString("Group: ")
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("\nTotal records: ")
	b.WriteString(humanize.Comma(int64(g.RecordCount)))

	for _, col := range s.NumericColumns() {
		b.WriteByte('\n')
		b.WriteString(r.numericLine(col, g.Stats[col]))
	}
	return b.String(), nil
}

func (r *Renderer) groupKey(k strategy.GroupKey, v any) (string, string, error) {
	name := r.names.Display(k.Column)
	if k.Transform == strategy.TransformNone {
		return name, formatScalar(v), nil
	}

	label := name + " (" + k.Transform.Label() + ")"
	if v == nil {
		return label, "unknown", nil
	}
	n, ok := toInt64(v)
	if !ok {
		return "", "", fmt.Errorf("column %s: %s value %v is not an integer", k.Column, k.Transform, v)
	}

	switch k.Transform {
	case strategy.TransformHourOfDay:
		return label, fmt.Sprintf("%02d:00 (%s)", n, hourPeriod(n)), nil
	case strategy.TransformDayOfWeek:
		if n >= 0 && n < 7 {
			return label, dayNames[n], nil
		}
	case strategy.TransformMonth:
		if n >= 1 && n <= 12 {
			return label, monthNames[n-1], nil
		}
	case strategy.TransformDayOfMonth:
	default:
		return "", "", fmt.Errorf("column %s: unknown transform %q", k.Column, k.Transform)
	}
	return label, strconv.FormatInt(n, 10), nil
}

func (r *Renderer) numericLine(col string, st insight.Stats) string {
	name := r.names.Display(col)
	if !st.HasData() {
		return name + ": no data"
	}

	kind, unit := kindOf(col)
	f := formatter{kind: kind, unit: unit}

	line := fmt.Sprintf("%s: avg %s, median %s, range [%s - %s]",
		name, f.avg(st.Avg), f.point(st.Median), f.point(st.Min), f.point(st.Max))

	if st.Avg != 0 && st.Stddev/abs(st.Avg) > HighVariabilityCV {
		line += fmt.Sprintf(" (high variability: σ=%s)", formatDecimal(st.Stddev, 2))
	}
	return line
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Metadata flattens a group into the scalar map stored next to the vector:
// group key values under key_<alias>, per-column statistics, the record
// count and whether medians are approximate. No column name can produce one
// of the fixed entries: keys carry key_ and stats their function prefix.
func Metadata(s strategy.Strategy, g insight.Group) map[string]any {
	md := make(map[string]any, len(g.Keys)+len(g.Stats)*6+4)
	md["strategy"] = s.Name
	md["record_count"] = g.RecordCount

	for i, k := range s.GroupKeys {
		if i >= len(g.Keys) {
			break
		}
		md[MetadataKey(k)] = scalar(g.Keys[i])
	}

	approximate := false
	for _, col := range s.NumericColumns() {
		st, ok := g.Stats[col]
		if !ok || !st.HasData() {
			continue
		}
		md["avg_"+col] = st.Avg
		md["median_"+col] = st.Median
		md["min_"+col] = st.Min
		md["max_"+col] = st.Max
		md["stddev_"+col] = st.Stddev
		md["count_"+col] = st.Count
		approximate = approximate || st.MedianApproximate
	}
	md["approximate_median"] = approximate
	return md
}

// MetadataKey is the metadata entry holding the value of group key k.
func MetadataKey(k strategy.GroupKey) string {
	return "key_" + k.Alias()
}

// scalar keeps metadata values JSON friendly.
func scalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float32, float64,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
