package toolcall

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Result is the terminal payload of a tool call. It is one of TextResult,
// AnswerResult or ObjectResult.
type Result interface {
	// Content is the string sent back to the agent as the tool message.
	Content() string
	isResult()
}

type TextResult struct {
	Text string
}

func (r TextResult) Content() string { return r.Text }
func (TextResult) isResult()         {}

// AnswerResult is a knowledge-base style answer with optional sources.
type AnswerResult struct {
	Answer  string
	Sources []string
	Raw     json.RawMessage
}

func (r AnswerResult) Content() string {
	if len(r.Raw) > 0 {
		return string(r.Raw)
	}
	return r.Answer
}
func (AnswerResult) isResult() {}

type ObjectResult struct {
	Raw json.RawMessage
}

func (r ObjectResult) Content() string { return string(r.Raw) }
func (ObjectResult) isResult()         {}

// ParseResult classifies a loosely typed result. A JSON string that itself
// holds JSON is unwrapped once. Objects carrying an answer field, at the top
// level or under data or result, become AnswerResult.
func ParseResult(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TextResult{}
	}
	if !gjson.Valid(trimmed) {
		return TextResult{Text: raw}
	}
	parsed := gjson.Parse(trimmed)
	if parsed.Type == gjson.String {
		inner := strings.TrimSpace(parsed.String())
		if (strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[")) && gjson.Valid(inner) {
			return ParseResult(inner)
		}
		return TextResult{Text: parsed.String()}
	}
	if parsed.IsObject() {
		for _, path := range []string{"answer", "data.answer", "result.answer"} {
			answer := parsed.Get(path)
			if !answer.Exists() {
				continue
			}
			parent := parsed
			if i := strings.LastIndexByte(path, '.'); i >= 0 {
				parent = parsed.Get(path[:i])
			}
			return AnswerResult{
				Answer:  answer.String(),
				Sources: sourceList(parent.Get("sources")),
				Raw:     json.RawMessage(trimmed),
			}
		}
		return ObjectResult{Raw: json.RawMessage(trimmed)}
	}
	if parsed.IsArray() {
		return ObjectResult{Raw: json.RawMessage(trimmed)}
	}
	return TextResult{Text: parsed.String()}
}

// ParseRawResult is ParseResult for a JSON value taken from agent state,
// where a plain string result arrives JSON encoded.
func ParseRawResult(raw json.RawMessage) Result {
	if len(raw) == 0 {
		return nil
	}
	return ParseResult(string(raw))
}

func sourceList(value gjson.Result) []string {
	if !value.IsArray() {
		return StringList(value)
	}
	out := []string{}
	for _, item := range value.Array() {
		if item.IsObject() {
			for _, key := range []string{"title", "file_name", "name", "url", "source"} {
				if v := strings.TrimSpace(item.Get(key).String()); v != "" {
					out = append(out, v)
					break
				}
			}
			continue
		}
		if text := strings.TrimSpace(item.String()); text != "" {
			out = append(out, text)
		}
	}
	return out
}
