package extract

import (
	"fmt"
	"sort"

	"github.com/hyperjump/kotae/internal/models"
)

// pageParts collects the text of a structured page: every string block value, string
// members of object blocks, string items of list blocks, then the extra fields sorted by name.
func pageParts(item *models.ContentItem) []string {
	var parts []string
	for _, block := range item.Body {
		parts = appendValue(parts, block.Value)
	}
	names := make([]string, 0, len(item.Fields))
	for name := range item.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := item.Fields[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return parts
}

func appendValue(parts []string, v any) []string {
	switch v := v.(type) {
	case string:
		if v != "" {
			parts = append(parts, v)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := v[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	case []any:
		for _, item := range v {
			parts = appendValue(parts, item)
		}
	case fmt.Stringer:
		parts = append(parts, v.String())
	}
	return parts
}
