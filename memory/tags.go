package memory

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// EncodeTags flattens tags into a single string for backends that only
// support scalar metadata. The encoding is a JSON array, so commas or any
// other character inside a tag survive the round trip. No tags encode to "".
func EncodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode tags")
	}
	return string(raw), nil
}

// DecodeTags is the inverse of EncodeTags. Values that do not parse as a
// JSON string array, such as "[wip],todo", are treated as the legacy
// comma-joined format, so every stored value decodes to some tag list.
func DecodeTags(s string) []string {
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(s), &tags); err == nil {
			if len(tags) == 0 {
				return nil
			}
			return tags
		}
	}
	return strings.Split(s, ",")
}
