package dataset

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// unwrapType strips Nullable and LowCardinality wrappers, reporting whether the
// column can hold NULL.
func unwrapType(dbType string) (base string, nullable bool) {
	base = dbType
	for {
		switch {
		case strings.HasPrefix(base, "Nullable(") && strings.HasSuffix(base, ")"):
			base = base[len("Nullable(") : len(base)-1]
			nullable = true
		case strings.HasPrefix(base, "LowCardinality(") && strings.HasSuffix(base, ")"):
			base = base[len("LowCardinality(") : len(base)-1]
		default:
			return base, nullable
		}
	}
}

// target returns *T for plain columns and **T for nullable ones.
func target[T any](nullable bool) any {
	if nullable {
		var p *T
		return &p
	}
	var v T
	return &v
}

// InitializeScanTargets creates one scan destination per column, chosen from
// the column's ClickHouse type.
func InitializeScanTargets(columnTypes []driver.ColumnType) []any {
	ptrs := make([]any, len(columnTypes))
	for i, colType := range columnTypes {
		base, nullable := unwrapType(colType.DatabaseTypeName())
		switch {
		case base == "String" || strings.HasPrefix(base, "FixedString"),
			strings.HasPrefix(base, "Enum8"), strings.HasPrefix(base, "Enum16"):
			ptrs[i] = target[string](nullable)
		case strings.HasPrefix(base, "Date"):
			ptrs[i] = target[time.Time](nullable)
		case base == "UInt8":
			ptrs[i] = target[uint8](nullable)
		case base == "UInt16":
			ptrs[i] = target[uint16](nullable)
		case base == "UInt32":
			ptrs[i] = target[uint32](nullable)
		case base == "UInt64":
			ptrs[i] = target[uint64](nullable)
		case base == "Int8":
			ptrs[i] = target[int8](nullable)
		case base == "Int16":
			ptrs[i] = target[int16](nullable)
		case base == "Int32":
			ptrs[i] = target[int32](nullable)
		case base == "Int64":
			ptrs[i] = target[int64](nullable)
		case base == "Float32":
			ptrs[i] = target[float32](nullable)
		case base == "Float64":
			ptrs[i] = target[float64](nullable)
		case strings.HasPrefix(base, "Decimal"):
			ptrs[i] = target[decimal.Decimal](nullable)
		case base == "Bool":
			ptrs[i] = target[bool](nullable)
		case base == "UUID":
			ptrs[i] = target[uuid.UUID](nullable)
		case strings.HasPrefix(base, "Array("):
			// Arrays come back as typed slices; let the driver pick.
			if t := colType.ScanType(); t != nil {
				ptrs[i] = reflect.New(t).Interface()
			} else {
				ptrs[i] = new(any)
			}
		default:
			ptrs[i] = target[string](nullable)
		}
	}
	return ptrs
}

// DereferencePointer turns a scan destination back into a plain value. NULLs
// become nil and decimals become float64.
func DereferencePointer(ptr any) any {
	if ptr == nil {
		return nil
	}
	v := reflect.ValueOf(ptr)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	out := v.Interface()
	if d, ok := out.(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return out
}

func dereferencePointersToMap(ptrs []any, columns []string) map[string]any {
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = DereferencePointer(ptrs[i])
	}
	return row
}

// scanIntoStruct maps columns onto fields of T by `ch` tag or snake_cased
// field name, case-insensitively.
func scanIntoStruct[T any](ptrs []any, columns []string) (T, error) {
	var result T
	rv := reflect.ValueOf(&result).Elem()
	rt := rv.Type()

	fields := make(map[string]int, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if tag := f.Tag.Get("ch"); tag != "" {
			fields[strings.ToLower(tag)] = i
		}
		fields[camelToSnake(f.Name)] = i
		fields[strings.ToLower(f.Name)] = i
	}

	for i, col := range columns {
		idx, ok := fields[strings.ToLower(col)]
		if !ok {
			continue
		}
		fv := rv.Field(idx)
		if !fv.CanSet() {
			continue
		}
		if err := setFieldValue(fv, DereferencePointer(ptrs[i])); err != nil {
			return result, fmt.Errorf("column %s: %w", col, err)
		}
	}
	return result, nil
}

func setFieldValue(field reflect.Value, val any) error {
	ft := field.Type()
	if val == nil {
		field.Set(reflect.Zero(ft))
		return nil
	}
	vv := reflect.ValueOf(val)
	switch {
	case vv.Type().AssignableTo(ft):
		field.Set(vv)
	case vv.Type().ConvertibleTo(ft):
		field.Set(vv.Convert(ft))
	case ft.Kind() == reflect.Pointer && vv.Type().ConvertibleTo(ft.Elem()):
		p := reflect.New(ft.Elem())
		p.Elem().Set(vv.Convert(ft.Elem()))
		field.Set(p)
	default:
		return fmt.Errorf("cannot convert %s to %s", vv.Type(), ft)
	}
	return nil
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
