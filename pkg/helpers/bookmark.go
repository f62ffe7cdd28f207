package helpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeBookmark serializes an opaque pagination cursor. Devices treat
// bookmarks as black boxes and hand them back verbatim.
func EncodeBookmark(cursor any) (string, error) {
	b, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("could not encode bookmark: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeBookmark(bookmark string, cursor any) error {
	b, err := base64.RawURLEncoding.DecodeString(bookmark)
	if err != nil {
		return fmt.Errorf("not a valid bookmark")
	}

	if err := json.Unmarshal(b, cursor); err != nil {
		return fmt.Errorf("not a valid bookmark")
	}

	return nil
}
