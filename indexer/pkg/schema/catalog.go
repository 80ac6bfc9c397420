package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrEmptyCatalog is returned by Catalog.Validate when a table has nothing to
// group on. Callers report it and carry on with zero strategies.
var ErrEmptyCatalog = errors.New("no categorical or temporal columns found")

// Catalog is the frozen per-table dimension inventory. It is built once and
// only read afterwards.
type Catalog struct {
	Table       string
	Categorical []Column
	Temporal    []Column
	Numeric     []Column
	Geospatial  []GeoPair

	// RowCount is the source table row count, zero when unknown.
	RowCount uint64

	// Distinct holds the distinct counts that were known at build time.
	Distinct map[string]uint64

	// Report lists every column with the role it ended up with.
	Report []Classification
}

// Validate returns ErrEmptyCatalog when no strategy can be generated.
func (c *Catalog) Validate() error {
	if len(c.Categorical) == 0 && len(c.Temporal) == 0 {
		return fmt.Errorf("%s: %w", c.Table, ErrEmptyCatalog)
	}
	return nil
}

// DistinctCount implements Cardinality over the counts captured at build time.
func (c *Catalog) DistinctCount(column string) (uint64, bool) {
	n, ok := c.Distinct[column]
	return n, ok
}

// Column returns the catalog column with the given name from any bucket.
func (c *Catalog) Column(name string) (Column, bool) {
	for _, bucket := range [][]Column{c.Categorical, c.Temporal, c.Numeric} {
		for _, col := range bucket {
			if col.Name == name {
				return col, true
			}
		}
	}
	for _, p := range c.Geospatial {
		if p.Lon.Name == name {
			return p.Lon, true
		}
		if p.Lat.Name == name {
			return p.Lat, true
		}
	}
	return Column{}, false
}

// Builder turns raw column metadata into a Catalog.
type Builder struct {
	Ceiling        uint64
	ExcludeColumns []string
}

type BuildInput struct {
	Table       string
	Columns     []Column
	Cardinality Cardinality
	RowCount    uint64
}

func (b Builder) Build(in BuildInput) (*Catalog, error) {
	seen := make(map[string]bool, len(in.Columns))
	for _, col := range in.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column with empty name in table %q", in.Table)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("duplicate column %q in table %q", col.Name, in.Table)
		}
		seen[col.Name] = true
	}

	excluded := make(map[string]bool, len(b.ExcludeColumns))
	for _, name := range b.ExcludeColumns {
		excluded[strings.ToLower(strings.TrimSpace(name))] = true
	}

	classifier := Classifier{Ceiling: b.Ceiling}
	classes, pairs := classifier.ClassifyTable(in.Columns, in.Cardinality)

	cat := &Catalog{
		Table:    in.Table,
		RowCount: in.RowCount,
		Distinct: make(map[string]uint64),
	}

	geoExcluded := make(map[string]bool)
	for i := range classes {
		cl := &classes[i]
		if cl.DistinctKnown {
			cat.Distinct[cl.Column.Name] = cl.Distinct
		}
		if excluded[strings.ToLower(cl.Column.Name)] {
			if cl.Role == RoleGeospatial {
				geoExcluded[cl.Column.Name] = true
			}
			cl.Role = RoleUnclassified
			cl.Note = NoteExcluded
			continue
		}
		switch cl.Role {
		case RoleCategorical:
			cat.Categorical = append(cat.Categorical, cl.Column)
		case RoleTemporal:
			cat.Temporal = append(cat.Temporal, cl.Column)
		case RoleNumeric:
			if IsIdentifierName(cl.Column.Name) {
				cl.Role = RoleUnclassified
				cl.Note = NoteIdentifier
				continue
			}
			cat.Numeric = append(cat.Numeric, cl.Column)
		}
	}

	orphaned := make(map[string]bool)
	for _, p := range pairs {
		if geoExcluded[p.Lon.Name] || geoExcluded[p.Lat.Name] {
			orphaned[p.Lon.Name], orphaned[p.Lat.Name] = true, true
			continue
		}
		cat.Geospatial = append(cat.Geospatial, p)
	}
	// The remaining half of an excluded pair lands in no bucket.
	for i := range classes {
		cl := &classes[i]
		if orphaned[cl.Column.Name] && cl.Role == RoleGeospatial {
			cl.Role = RoleUnclassified
			cl.Note = NoteGeoPairIncomplete
		}
	}
	cat.Report = classes

	return cat, nil
}

var identifierSuffixes = []string{"id", "key", "uuid", "guid", "hash", "pk", "sk", "fk"}

// IsIdentifierName reports whether a column name looks like a key rather
// than a measure: id, user_id, order_key, accountId, row_hash, ...
func IsIdentifierName(name string) bool {
	tokens := NameTokens(name)
	if len(tokens) == 0 {
		return false
	}
	last := tokens[len(tokens)-1]
	for _, sfx := range identifierSuffixes {
		if last == sfx {
			return true
		}
	}
	return false
}

// NameTokens splits snake_case, kebab-case and camelCase names into
// lower-cased words.
func NameTokens(name string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
