package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsights_Schema_BaseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		declared string
		want     string
	}{
		{"String", "String"},
		{"Nullable(String)", "String"},
		{"LowCardinality(String)", "String"},
		{"LowCardinality(Nullable(String))", "String"},
		{"Nullable(DateTime64(3, 'UTC'))", "DateTime64(3, 'UTC')"},
		{" nullable(Float64) ", "Float64"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BaseType(tt.declared), tt.declared)
	}

	require.True(t, IsNullableType("Nullable(Int32)"))
	require.True(t, IsNullableType("LowCardinality(Nullable(String))"))
	require.False(t, IsNullableType("Int32"))
}

func TestInsights_Schema_Classify_Temporal(t *testing.T) {
	t.Parallel()

	c := Classifier{}
	for _, declared := range []string{
		"Date", "Date32", "DateTime", "DateTime('Europe/Amsterdam')", "DateTime64(3)",
		"DateTime64(6, 'UTC')", "Nullable(DateTime)", "timestamp", "TIMESTAMP WITH TIME ZONE", "timestamptz",
	} {
		got := c.Classify(Column{Name: "ts", DeclaredType: declared}, nil)
		require.Equal(t, RoleTemporal, got.Role, declared)
		require.Equal(t, NoteNone, got.Note, declared)
	}
}

func TestInsights_Schema_Classify_Numeric(t *testing.T) {
	t.Parallel()

	c := Classifier{}
	for _, declared := range []string{
		"UInt8", "UInt64", "Int32", "Int256", "Float32", "Float64", "Decimal(10, 2)", "Decimal64(4)",
		"Nullable(Float64)", "bigint", "double precision", "real", "numeric(12,4)",
	} {
		got := c.Classify(Column{Name: "fare", DeclaredType: declared}, nil)
		require.Equal(t, RoleNumeric, got.Role, declared)
	}

	got := c.Classify(Column{Name: "span", DeclaredType: "IntervalDay"}, nil)
	require.Equal(t, RoleUnclassified, got.Role)
	require.Equal(t, NoteUnsupportedType, got.Note)
}

func TestInsights_Schema_Classify_Categorical(t *testing.T) {
	t.Parallel()

	c := Classifier{Ceiling: 500}
	card := CardinalityMap{"borough": 6, "driver_name": 50000, "edge": 500}

	t.Run("string below ceiling", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "borough", DeclaredType: "LowCardinality(String)"}, card)
		require.Equal(t, RoleCategorical, got.Role)
		require.True(t, got.DistinctKnown)
		require.Equal(t, uint64(6), got.Distinct)
	})

	t.Run("string at ceiling is categorical", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "edge", DeclaredType: "String"}, card)
		require.Equal(t, RoleCategorical, got.Role)
	})

	t.Run("string above ceiling", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "driver_name", DeclaredType: "String"}, card)
		require.Equal(t, RoleUnclassified, got.Role)
		require.Equal(t, NoteAboveCeiling, got.Note)
	})

	t.Run("string with unknown cardinality degrades", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "notes", DeclaredType: "String"}, card)
		require.Equal(t, RoleUnclassified, got.Role)
		require.Equal(t, NoteCardinalityUnknown, got.Note)

		got = c.Classify(Column{Name: "notes", DeclaredType: "String"}, nil)
		require.Equal(t, NoteCardinalityUnknown, got.Note)
	})

	t.Run("enum uses member count", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "payment", DeclaredType: "Enum8('cash' = 1, 'card' = 2, 'it''s' = 3)"}, nil)
		require.Equal(t, RoleCategorical, got.Role)
		require.Equal(t, uint64(3), got.Distinct)
	})

	t.Run("bool is two valued", func(t *testing.T) {
		t.Parallel()
		got := c.Classify(Column{Name: "store_and_fwd", DeclaredType: "Bool"}, nil)
		require.Equal(t, RoleCategorical, got.Role)
		require.Equal(t, uint64(2), got.Distinct)
	})

	t.Run("identifier types are unsupported", func(t *testing.T) {
		t.Parallel()
		for _, declared := range []string{"UUID", "IPv4", "Nullable(IPv6)"} {
			got := c.Classify(Column{Name: "x", DeclaredType: declared}, card)
			require.Equal(t, RoleUnclassified, got.Role, declared)
			require.Equal(t, NoteUnsupportedType, got.Note, declared)
		}
	})
}

func TestInsights_Schema_ClassifyTable_GeospatialPairs(t *testing.T) {
	t.Parallel()

	cols := []Column{
		{Name: "pickup_latitude", DeclaredType: "Float64"},
		{Name: "pickup_longitude", DeclaredType: "Float64"},
		{Name: "dropoff_lon", DeclaredType: "Float32"},
		{Name: "dropoff_lat", DeclaredType: "Float32"},
		{Name: "lng", DeclaredType: "Float64"},
		{Name: "lat", DeclaredType: "Float64"},
		{Name: "orphan_longitude", DeclaredType: "Float64"},
		{Name: "label_lon", DeclaredType: "String"},
		{Name: "label_lat", DeclaredType: "Float64"},
		{Name: "fare", DeclaredType: "Float64"},
	}

	classes, pairs := Classifier{}.ClassifyTable(cols, nil)
	require.Len(t, classes, len(cols))
	require.Len(t, pairs, 3)

	require.Equal(t, "pickup", pairs[0].Name)
	require.Equal(t, "pickup_longitude", pairs[0].Lon.Name)
	require.Equal(t, "pickup_latitude", pairs[0].Lat.Name)
	require.Equal(t, "dropoff", pairs[1].Name)
	require.Equal(t, "dropoff_lon", pairs[1].Lon.Name)
	require.Equal(t, "location", pairs[2].Name)

	roles := make(map[string]Role)
	for _, c := range classes {
		roles[c.Column.Name] = c.Role
	}
	require.Equal(t, RoleGeospatial, roles["pickup_latitude"])
	require.Equal(t, RoleGeospatial, roles["dropoff_lat"])
	require.Equal(t, RoleNumeric, roles["orphan_longitude"])
	require.Equal(t, RoleNumeric, roles["label_lat"])
	require.Equal(t, RoleNumeric, roles["fare"])
}

func TestInsights_Schema_Classify_Deterministic(t *testing.T) {
	t.Parallel()

	cols := []Column{
		{Name: "a", DeclaredType: "String"},
		{Name: "b", DeclaredType: "DateTime"},
		{Name: "c", DeclaredType: "Float64"},
	}
	card := CardinalityMap{"a": 3}
	first, _ := Classifier{}.ClassifyTable(cols, card)
	for i := 0; i < 10; i++ {
		again, _ := Classifier{}.ClassifyTable(cols, card)
		require.Equal(t, first, again)
	}
}
