package application

import "encoding/json"

// scrubSecrets removes every configured sensitive key from the artifact
// content before publication. The content may be a single JSON object or a
// list of objects; any other shape, and content that does not parse at all,
// is returned unchanged so malformed local data never blocks publication.
func scrubSecrets(raw []byte, keys []string) []byte {
	if len(keys) == 0 {
		return raw
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw
	}

	switch v := parsed.(type) {
	case map[string]any:
		deleteKeys(v, keys)
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				deleteKeys(obj, keys)
			}
		}
	default:
		return raw
	}

	out, err := json.MarshalIndent(parsed, "", "    ")
	if err != nil {
		return raw
	}
	return out
}

func deleteKeys(obj map[string]any, keys []string) {
	for _, k := range keys {
		delete(obj, k)
	}
}
