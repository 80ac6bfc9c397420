package schema

import (
	"strings"
)

const DefaultCardinalityCeiling uint64 = 500

// Classifier assigns a single semantic role to each column.
type Classifier struct {
	// Ceiling is the largest distinct-value count a string or enum column may
	// have and still be grouped on.
	Ceiling uint64
}

func (c Classifier) ceiling() uint64 {
	if c.Ceiling == 0 {
		return DefaultCardinalityCeiling
	}
	return c.Ceiling
}

// Classify applies the ordered rules to a single column: temporal, then
// bounded categorical, then numeric. Geospatial pairing needs sibling columns
// and is done by ClassifyTable.
func (c Classifier) Classify(col Column, card Cardinality) Classification {
	kind, members := kindOf(col.DeclaredType)
	out := Classification{Column: col}

	switch kind {
	case kindTemporal:
		out.Role = RoleTemporal
	case kindEnum, kindBool:
		out.Distinct, out.DistinctKnown = uint64(members), true
		if n, ok := distinct(card, col.Name); ok {
			out.Distinct = n
		}
		c.categorical(&out)
	case kindString:
		n, ok := distinct(card, col.Name)
		if !ok {
			// Unknown without a scan: treat as non-categorical.
			out.Role = RoleUnclassified
			out.Note = NoteCardinalityUnknown
			return out
		}
		out.Distinct, out.DistinctKnown = n, true
		c.categorical(&out)
	case kindNumeric:
		out.Role = RoleNumeric
	default:
		out.Role = RoleUnclassified
		out.Note = NoteUnsupportedType
	}
	return out
}

func (c Classifier) categorical(out *Classification) {
	if out.Distinct > c.ceiling() {
		out.Role = RoleUnclassified
		out.Note = NoteAboveCeiling
		return
	}
	out.Role = RoleCategorical
}

func distinct(card Cardinality, name string) (uint64, bool) {
	if card == nil {
		return 0, false
	}
	return card.DistinctCount(name)
}

// GeoPair is a longitude/latitude column pair sharing a name prefix.
type GeoPair struct {
	Name string
	Lon  Column
	Lat  Column
}

type axisSuffix struct {
	lon string
	lat string
}

// Longer suffixes first so pickup_longitude is not read as prefix
// "pickup_longitu" plus "de".
var geoSuffixes = []axisSuffix{
	{lon: "longitude", lat: "latitude"},
	{lon: "lng", lat: "lat"},
	{lon: "lon", lat: "lat"},
}

// ClassifyTable classifies every column of a table and pairs numeric
// longitude/latitude siblings as geospatial components before the numeric
// rule can claim them. Results keep the input column order.
func (c Classifier) ClassifyTable(columns []Column, card Cardinality) ([]Classification, []GeoPair) {
	out := make([]Classification, len(columns))
	for i, col := range columns {
		out[i] = c.Classify(col, card)
	}

	byName := make(map[string]int, len(columns))
	for i, col := range columns {
		byName[strings.ToLower(col.Name)] = i
	}

	var pairs []GeoPair
	paired := make(map[int]bool)
	for i, col := range columns {
		if paired[i] || out[i].Role != RoleNumeric {
			continue
		}
		lower := strings.ToLower(col.Name)
		for _, sfx := range geoSuffixes {
			if !strings.HasSuffix(lower, sfx.lon) {
				continue
			}
			prefix := lower[:len(lower)-len(sfx.lon)]
			j, ok := byName[prefix+sfx.lat]
			if !ok || paired[j] || out[j].Role != RoleNumeric {
				continue
			}
			paired[i], paired[j] = true, true
			out[i].Role = RoleGeospatial
			out[j].Role = RoleGeospatial
			pairs = append(pairs, GeoPair{
				Name: geoPairName(col.Name[:len(prefix)]),
				Lon:  col,
				Lat:  columns[j],
			})
			break
		}
	}
	return out, pairs
}

func geoPairName(prefix string) string {
	name := strings.TrimRight(prefix, "_")
	if name == "" {
		return "location"
	}
	return name
}
