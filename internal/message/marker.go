package message

import (
	"fmt"
	"regexp"
)

// Assistant content may embed inline structured markers of the form
// [type:key="value",key2="value2"]. The sync engine treats surrounding
// text as opaque bytes; markers are only ever rewritten one occurrence
// at a time, in place.

type MarkerKind string

const (
	MarkerSuggestion MarkerKind = "suggestion"
	MarkerExercise   MarkerKind = "exercise"
	MarkerCheckin    MarkerKind = "checkin"
	MarkerUnknown    MarkerKind = "unknown"
)

type MarkerField struct {
	Key   string
	Value string
}

// Marker is one parsed occurrence. Raw is the exact source span
// (including brackets); Start/End index it within the content.
type Marker struct {
	Kind   MarkerKind
	Type   string // raw type token, kept for unknown kinds
	Fields []MarkerField
	Raw    string
	Start  int
	End    int
}

func (m Marker) Field(key string) (string, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

var (
	markerRe = regexp.MustCompile(`\[([a-zA-Z][a-zA-Z0-9_-]*):((?:[a-zA-Z][a-zA-Z0-9_-]*="[^"]*")(?:,[a-zA-Z][a-zA-Z0-9_-]*="[^"]*")*)\]`)
	fieldRe  = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9_-]*)="([^"]*)"`)
)

func kindOf(typ string) MarkerKind {
	switch MarkerKind(typ) {
	case MarkerSuggestion, MarkerExercise, MarkerCheckin:
		return MarkerKind(typ)
	}
	return MarkerUnknown
}

// ParseMarkers returns every marker occurrence in content, in order.
// Malformed bracket runs are left unmatched and treated as plain text.
func ParseMarkers(content string) []Marker {
	idx := markerRe.FindAllStringSubmatchIndex(content, -1)
	if idx == nil {
		return nil
	}
	out := make([]Marker, 0, len(idx))
	for _, loc := range idx {
		raw := content[loc[0]:loc[1]]
		typ := content[loc[2]:loc[3]]
		body := content[loc[4]:loc[5]]
		var fields []MarkerField
		for _, fm := range fieldRe.FindAllStringSubmatch(body, -1) {
			fields = append(fields, MarkerField{Key: fm[1], Value: fm[2]})
		}
		out = append(out, Marker{
			Kind:   kindOf(typ),
			Type:   typ,
			Fields: fields,
			Raw:    raw,
			Start:  loc[0],
			End:    loc[1],
		})
	}
	return out
}

// RewriteMarkerField rewrites field key of the occurrence-th marker
// (0-based) in content to value, leaving every other byte untouched.
// Returns the rewritten content and whether a substitution happened.
func RewriteMarkerField(content string, occurrence int, key, value string) (string, bool) {
	markers := ParseMarkers(content)
	if occurrence < 0 || occurrence >= len(markers) {
		return content, false
	}
	mk := markers[occurrence]
	// Fields are always preceded by ':' or ',' inside Raw, which keeps
	// key from matching a longer key it happens to be a suffix of.
	single := regexp.MustCompile(fmt.Sprintf(`[:,](%s=")[^"]*(")`, regexp.QuoteMeta(key)))
	loc := single.FindStringSubmatchIndex(mk.Raw)
	if loc == nil {
		return content, false
	}
	newRaw := mk.Raw[:loc[3]] + value + mk.Raw[loc[4]:]
	return content[:mk.Start] + newRaw + content[mk.End:], true
}
