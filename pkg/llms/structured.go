package llms

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseStructured extracts a JSON object from model output. It handles a
// fenced ```json block or content that starts with "{"; anything else is
// returned as-is with ok=false.
func ParseStructured(content string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(content)

	candidate := ""
	if m := fencedJSONRe.FindStringSubmatch(trimmed); m != nil {
		candidate = m[1]
	} else if strings.HasPrefix(trimmed, "{") {
		candidate = trimmed
	}

	if candidate == "" {
		return nil, false
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// HasFields reports whether every required field is present in parsed.
func HasFields(parsed map[string]interface{}, required ...string) bool {
	for _, field := range required {
		if _, ok := parsed[field]; !ok {
			return false
		}
	}
	return true
}
