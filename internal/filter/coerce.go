package filter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"FlowtrackAPI/internal/model"
)

const dateLayout = "2006-01-02"

// coerce приводит значение запроса к типу поля.
// ok=false - значение пустое и поле считается незаданным.
func coerce(f *model.FilterField, raw any) (any, bool, error) {
	switch f.Type {
	case model.TypeStrings:
		list, err := toStrings(f.Name, raw)
		return list, len(list) > 0, err
	case model.TypeInt:
		n, err := toInt(f.Name, raw)
		return n, err == nil, err
	case model.TypeFloat:
		x, err := toFloat(f.Name, raw)
		return x, err == nil, err
	case model.TypeBool:
		v, err := toBool(f.Name, raw)
		return v, err == nil, err
	case model.TypeDate:
		if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
			return nil, false, nil
		}
		d, err := toDate(f.Name, raw)
		return d, err == nil, err
	default:
		if f.Op == model.OpIn || f.Op == model.OpNotIn {
			if _, isString := raw.(string); !isString {
				list, err := toStrings(f.Name, raw)
				return list, len(list) > 0, err
			}
		}
		s, err := toString(f.Name, raw)
		return s, err == nil && s != "", err
	}
}

func toString(name string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", invalidValue(name, raw, "string")
}

func toStrings(name string, raw any) ([]string, error) {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			s, err := toString(name, item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
	default:
		s, err := toString(name, raw)
		if err != nil {
			return nil, invalidValue(name, raw, "list")
		}
		parts = []string{s}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func toInt(name string, raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, invalidValue(name, raw, "integer")
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, invalidValue(name, raw, "integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, invalidValue(name, raw, "integer")
		}
		return n, nil
	}
	return 0, invalidValue(name, raw, "integer")
}

func toFloat(name string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		x, err := v.Float64()
		if err != nil {
			return 0, invalidValue(name, raw, "number")
		}
		return x, nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalidValue(name, raw, "number")
		}
		return x, nil
	}
	return 0, invalidValue(name, raw, "number")
}

func toBool(name string, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalidValue(name, raw, "boolean")
		}
		return b, nil
	}
	return false, invalidValue(name, raw, "boolean")
}

func toDate(name string, raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.Parse(dateLayout, s); err == nil {
			return d, nil
		}
		if d, err := time.Parse(time.RFC3339, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, invalidValue(name, raw, "date (YYYY-MM-DD)")
}
