package sqlsource

import (
	"database/sql/driver"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// normalizeValue converts driver values to the Row value set: string,
// int64, float64, bool, time.Time or nil. Unsigned values above MaxInt64
// become decimal strings.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, int64, float64, bool:
		return val
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		return unsigned(uint64(val))
	case uint64:
		return unsigned(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC()
	case [16]byte:
		return uuid.UUID(val).String()
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return nil
		}
		if _, loop := inner.(driver.Valuer); loop {
			return nil
		}
		return normalizeValue(inner)
	default:
		return val
	}
}

func unsigned(v uint64) any {
	if v > math.MaxInt64 {
		return strconv.FormatUint(v, 10)
	}
	return int64(v)
}
