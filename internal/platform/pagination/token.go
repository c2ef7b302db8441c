package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// IsZero reports whether the cursor points at the start of the collection.
func (c Cursor) IsZero() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// EncodeToken serialises a cursor into an opaque URL-safe page token. Listing
// endpoints hand these back as nextPageToken; an empty cursor yields an empty
// token, signalling the final page.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken back into a cursor.
// Malformed tokens report ErrInvalidPageToken so handlers can answer 400
// instead of surfacing a Firestore error.
func DecodeToken(token string) (Cursor, error) {
	var cursor Cursor
	token = strings.TrimSpace(token)
	if token == "" {
		return cursor, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(decoded, &cursor)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
