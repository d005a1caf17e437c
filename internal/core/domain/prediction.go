package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Prediction is the raw output of a model for one record: a scalar, a list,
// a map or a *Record.
type Prediction struct {
	Value any
}

// NewPrediction wraps v.
func NewPrediction(v any) Prediction {
	return Prediction{Value: v}
}

// String renders the prediction the way it is returned to clients.
//
// Lists print as [a b c], strings inside containers are single-quoted,
// whole numbers print without a fraction and nil prints as None. A bare
// string prediction is returned unquoted.
func (p Prediction) String() string {
	var sb strings.Builder
	formatValue(&sb, p.Value, false)
	return sb.String()
}

func formatValue(sb *strings.Builder, v any, nested bool) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if val {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case string:
		if nested {
			sb.WriteString(quote(val))
		} else {
			sb.WriteString(val)
		}
	case float64:
		sb.WriteString(formatFloat(val))
	case float32:
		sb.WriteString(formatFloat(float64(val)))
	case json.Number:
		sb.WriteString(val.String())
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case *Record:
		sb.WriteByte('{')
		for i, k := range val.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			fv, _ := val.Get(k)
			sb.WriteString(quote(k))
			sb.WriteString(": ")
			formatValue(sb, fv, true)
		}
		sb.WriteByte('}')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		formatValue(sb, RecordFromMap(val, keys...), nested)
	case Prediction:
		formatValue(sb, val.Value, nested)
	case fmt.Stringer:
		sb.WriteString(val.String())
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			sb.WriteByte('[')
			for i := 0; i < rv.Len(); i++ {
				if i > 0 {
					sb.WriteByte(' ')
				}
				formatValue(sb, rv.Index(i).Interface(), true)
			}
			sb.WriteByte(']')
			return
		}
		fmt.Fprint(sb, v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
