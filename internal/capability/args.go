package capability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String returns a trimmed string argument.
func (a Arguments) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	}
	return ""
}

// Strings accepts []string, []interface{} or a comma separated string.
func (a Arguments) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case []string:
		out = append(out, v...)
	case []interface{}:
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	}
	res := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}

// Int reads numeric arguments decoded from JSON or set natively.
func (a Arguments) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Time reads a time.Time or RFC3339 string. The zero time means absent.
func (a Arguments) Time(key string) time.Time {
	switch v := a[key].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Require returns an error naming the first missing key.
func (a Arguments) Require(keys ...string) error {
	for _, k := range keys {
		if v, ok := a[k]; !ok || v == nil || v == "" {
			return fmt.Errorf("missing required argument %q", k)
		}
	}
	return nil
}
