package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Args is a lenient view over a tool call's argument JSON. Arguments may be
// partial while streaming; missing or malformed fields read as zero values.
type Args struct {
	raw string
}

func ParseArgs(raw string) Args {
	return Args{raw: raw}
}

func (a Args) Valid() bool {
	return gjson.Valid(a.raw)
}

// JSON returns the arguments as a JSON object, or {} when they do not parse.
func (a Args) JSON() json.RawMessage {
	trimmed := strings.TrimSpace(a.raw)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

func (a Args) Has(key string) bool {
	return gjson.Get(a.raw, key).Exists()
}

func (a Args) String(key string) string {
	value := gjson.Get(a.raw, key)
	if !value.Exists() || value.Type == gjson.Null {
		return ""
	}
	if value.IsObject() || value.IsArray() {
		return value.Raw
	}
	return value.String()
}

// StringList reads key as a list of strings. A comma separated string is
// split; entries are trimmed and empties dropped.
func (a Args) StringList(key string) []string {
	return StringList(gjson.Get(a.raw, key))
}

func StringList(value gjson.Result) []string {
	out := []string{}
	switch {
	case value.IsArray():
		for _, item := range value.Array() {
			if item.Type == gjson.Null {
				continue
			}
			if text := strings.TrimSpace(item.String()); text != "" {
				out = append(out, text)
			}
		}
	case value.Type == gjson.String:
		for _, part := range strings.Split(value.String(), ",") {
			if text := strings.TrimSpace(part); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}
