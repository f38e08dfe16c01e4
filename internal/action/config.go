package action

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
)

// Config values arrive from YAML or JSON, so lists are []any and numbers
// may be int or float64. These accessors smooth that over.

func (r Request) str(key string) string {
	switch v := r.Action.Config[key].(type) {
	case nil:
		return ""
	case string:
		return r.expand(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Request) strs(key string) []string {
	var out []string
	switch v := r.Action.Config[key].(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			out = append(out, strings.TrimSpace(part))
		}
	}
	expanded := make([]string, 0, len(out))
	for _, s := range out {
		if s = r.expand(s); s != "" {
			expanded = append(expanded, s)
		}
	}
	return expanded
}

func (r Request) obj(key string) map[string]any {
	m, _ := r.Action.Config[key].(map[string]any)
	return m
}

func (r Request) integer(key string) (int, bool) {
	switch v := r.Action.Config[key].(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		f, ok := recordstore.Number(v)
		return int(f), ok
	}
}

func (r Request) boolean(key string) bool {
	switch v := r.Action.Config[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// expand replaces {{key}} with the matching event payload value. Unknown
// keys expand to "".
func (r Request) expand(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := r.Firing.Payload[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	})
}

// expandValues applies expand to every string value of m.
func (r Request) expandValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			v = r.expand(s)
		}
		out[k] = v
	}
	return out
}
