package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/schema"
)

type valueKind int

const (
	kindPlain valueKind = iota
	kindMoney
	kindCount
	kindDistance
)

var (
	moneyTokens = map[string]bool{
		"amount": true, "fare": true, "fares": true, "price": true, "cost": true, "fee": true, "fees": true,
		"tip": true, "tips": true, "toll": true, "tolls": true, "surcharge": true, "revenue": true, "tax": true,
	}
	countTokens = map[string]bool{
		"count": true, "passenger": true, "passengers": true, "qty": true, "quantity": true, "num": true,
	}
	distanceUnits = map[string]string{
		"km": "km", "kilometers": "km", "kilometres": "km",
		"mi": "mi", "miles": "mi", "mile": "mi",
	}
)

// kindOf classifies a numeric column by its name for formatting.
func kindOf(column string) (valueKind, string) {
	tokens := schema.NameTokens(column)
	unit := ""
	isDistance := false
	for _, t := range tokens {
		if u, ok := distanceUnits[t]; ok {
			unit = u
			isDistance = true
		}
		if t == "distance" || t == "dist" {
			isDistance = true
		}
	}
	for _, t := range tokens {
		if moneyTokens[t] {
			return kindMoney, ""
		}
	}
	if isDistance {
		return kindDistance, unit
	}
	for _, t := range tokens {
		if countTokens[t] {
			return kindCount, ""
		}
	}
	return kindPlain, ""
}

func formatDecimal(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err == nil {
		intPart = humanize.Comma(n)
	}
	out := intPart
	if decimals > 0 {
		out += "." + frac
	}
	if neg && strings.Trim(s, "0.") != "" {
		out = "-" + out
	}
	return out
}

func formatMoney(v float64) string {
	s := formatDecimal(v, 2)
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return "-$" + rest
	}
	return "$" + s
}

// formatter renders the avg / median / range values of one numeric column.
type formatter struct {
	kind valueKind
	unit string
}

func (f formatter) avg(v float64) string {
	switch f.kind {
	case kindMoney:
		return formatMoney(v)
	case kindCount:
		return formatDecimal(v, 1)
	default:
		return f.withUnit(formatDecimal(v, 2))
	}
}

func (f formatter) point(v float64) string {
	switch f.kind {
	case kindMoney:
		return formatMoney(v)
	case kindCount:
		return formatDecimal(v, 0)
	default:
		return f.withUnit(formatDecimal(v, 2))
	}
}

func (f formatter) withUnit(s string) string {
	if f.unit == "" {
		return s
	}
	return s + " " + f.unit
}

var (
	dayNames   = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	monthNames = []string{"January", "February", "March", "April", "May", "June", "July",
		"August", "September", "October", "November", "December"}
)

func hourPeriod(h int64) string {
	switch {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// toInt64 converts the integer and float kinds returned by the driver.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	}
	return 0, false
}

// formatScalar renders a plain group key value.
func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown"
	case string:
		if x == "" {
			return "unknown"
		}
		return x
	case time.Time:
		x = x.UTC()
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	}
	if n, ok := toInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}
