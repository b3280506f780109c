package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint computes SHA-256(sorted_json(v)). Values that cannot be
// marshalled fingerprint as the empty string.
func Fingerprint(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	h := sha256.New()
	h.Write(sortedJSON(raw))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// sortedJSON recursively sorts JSON object keys.
func sortedJSON(data json.RawMessage) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// Not an object (array, string, number, etc.), return as-is compact.
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err == nil {
			result := []byte("[")
			for i, el := range arr {
				if i > 0 {
					result = append(result, ',')
				}
				result = append(result, sortedJSON(el)...)
			}
			return append(result, ']')
		}
		var v interface{}
		if err2 := json.Unmarshal(data, &v); err2 != nil {
			return data
		}
		b, _ := json.Marshal(v)
		return b
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		kb, _ := json.Marshal(k)
		result = append(result, kb...)
		result = append(result, ':')
		result = append(result, sortedJSON(obj[k])...)
	}
	result = append(result, '}')
	return result
}
