package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"reflect"
	"strconv"
	"time"
)

// NaturalKey is an ordered tuple of values identifying a row.
type NaturalKey struct {
	Values []any
}

// SurrogateKey is the hex sha256 of a NaturalKey.
type SurrogateKey string

func NewNaturalKey(values ...any) *NaturalKey {
	return &NaturalKey{Values: values}
}

// ToSurrogate hashes the key into a stable identifier. Each value is written
// as type:length:payload so ("a|b") and ("a", "b") never collide, and so
// int32(1) and int64(1) stay distinct.
func (k *NaturalKey) ToSurrogate() SurrogateKey {
	h := sha256.New()
	for _, v := range k.Values {
		writeValue(h, v)
	}
	return SurrogateKey(hex.EncodeToString(h.Sum(nil)))
}

func (s SurrogateKey) String() string {
	return string(s)
}

func writeValue(h hash.Hash, val any) {
	if val == nil {
		h.Write([]byte("nil:0:"))
		return
	}

	var payload []byte
	switch v := val.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	case int, int8, int16, int32, int64:
		payload = binary.BigEndian.AppendUint64(nil, uint64(reflect.ValueOf(v).Int()))
	case uint, uint8, uint16, uint32, uint64:
		payload = binary.BigEndian.AppendUint64(nil, reflect.ValueOf(v).Uint())
	case float32:
		payload = binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
	case float64:
		payload = binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
	case bool:
		payload = []byte{0}
		if v {
			payload[0] = 1
		}
	case time.Time:
		payload = []byte(v.UTC().Format(time.RFC3339Nano))
	default:
		payload = []byte(fmt.Sprintf("%v", v))
	}

	h.Write([]byte(reflect.TypeOf(val).String()))
	h.Write([]byte(":" + strconv.Itoa(len(payload)) + ":"))
	h.Write(payload)
}
