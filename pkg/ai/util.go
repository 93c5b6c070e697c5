package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects the JSON schema sent as the structured output
// format. value may be a value or a pointer.
func GenerateSchema(value any) any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return r.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible decodes model output into out. Besides plain JSON it
// accepts a JSON string holding the document, a markdown code fence
// around it, a doubled opening brace and anything jsonrepair can fix.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	if json.Unmarshal([]byte(input), out) == nil {
		return nil
	}

	var inner string
	if json.Unmarshal([]byte(input), &inner) == nil {
		input = strings.TrimSpace(inner)
		if json.Unmarshal([]byte(input), out) == nil {
			return nil
		}
	}

	input = trimCodeFence(input)
	input = collapseLeadingBrace(input)

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w (repaired: %s)", err, repaired)
	}
	return nil
}

func trimCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// collapseLeadingBrace handles "{ {" which some local models emit.
func collapseLeadingBrace(s string) string {
	if !strings.HasPrefix(s, "{") {
		return s
	}
	rest := strings.TrimSpace(s[1:])
	if strings.HasPrefix(rest, "{") {
		return rest
	}
	return s
}
