package configurer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonValue walks a decoded JSON object by key path.
func jsonValue(root map[string]interface{}, path ...string) (interface{}, bool) {
	var current interface{} = root
	for _, key := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func jsonString(root map[string]interface{}, path ...string) (string, bool) {
	v, ok := jsonValue(root, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func jsonNumber(root map[string]interface{}, path ...string) (float64, bool) {
	v, ok := jsonValue(root, path...)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func jsonStringSlice(root map[string]interface{}, path ...string) ([]string, bool) {
	v, ok := jsonValue(root, path...)
	if !ok {
		return nil, false
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, true
}

// parseJSONFromCLIOutput decodes the JSON object embedded in gateway CLI
// output. The CLI may prepend log noise or a BOM, so decoding starts at the
// first opening brace.
func parseJSONFromCLIOutput(output string, dest interface{}) error {
	idx := strings.IndexAny(output, "{[")
	if idx < 0 {
		return fmt.Errorf("no JSON payload in CLI output: %s", strings.TrimSpace(output))
	}
	if err := json.Unmarshal([]byte(output[idx:]), dest); err != nil {
		return fmt.Errorf("parse CLI JSON output: %w", err)
	}
	return nil
}
