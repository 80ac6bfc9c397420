package schema

import "fmt"

// Column describes one source table column as reported by the schema source.
type Column struct {
	Name         string
	DeclaredType string
	Nullable     bool
}

type Role int

const (
	RoleUnclassified Role = iota
	RoleCategorical
	RoleTemporal
	RoleNumeric
	RoleGeospatial
)

func (r Role) String() string {
	switch r {
	case RoleCategorical:
		return "categorical"
	case RoleTemporal:
		return "temporal"
	case RoleNumeric:
		return "numeric"
	case RoleGeospatial:
		return "geospatial"
	default:
		return "unclassified"
	}
}

// Note explains why a column ended up where it did. Notes never make a
// classification fail; they are surfaced in catalog reports and dry runs.
type Note string

const (
	NoteNone               Note = ""
	NoteCardinalityUnknown Note = "cardinality_unknown"
	NoteAboveCeiling       Note = "above_ceiling"
	NoteUnsupportedType    Note = "unsupported_type"
	NoteIdentifier         Note = "identifier"
	NoteExcluded           Note = "excluded"
	NoteGeoPairIncomplete  Note = "geo_pair_incomplete"
)

type Classification struct {
	Column Column
	Role   Role
	Note   Note

	// Distinct is the distinct-value count the decision was based on, when known.
	Distinct      uint64
	DistinctKnown bool
}

func (c Classification) String() string {
	if c.Note == NoteNone {
		return fmt.Sprintf("%s: %s", c.Column.Name, c.Role)
	}
	return fmt.Sprintf("%s: %s (%s)", c.Column.Name, c.Role, c.Note)
}

// Cardinality supplies distinct-value counts for columns. A false second
// return means the count is unknown.
type Cardinality interface {
	DistinctCount(column string) (uint64, bool)
}

// CardinalityMap is a Cardinality backed by a plain map.
type CardinalityMap map[string]uint64

func (m CardinalityMap) DistinctCount(column string) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	n, ok := m[column]
	return n, ok
}
