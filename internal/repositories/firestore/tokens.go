package firestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/printy-garments/api/internal/platform/pagination"
)

// List page tokens carry the cursor position as a (timestamp, document ID)
// pair, encoded with the shared pagination token codec so handlers and
// repositories agree on the wire format.

func encodeListToken(ts time.Time, id string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), id},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode token: %w", err)
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("malformed token")
	}
	rawTS, ok := cursor.StartAfter[0].(string)
	if !ok || rawTS == "" {
		return time.Time{}, "", errors.New("malformed token")
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return time.Time{}, "", errors.New("malformed token")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse token timestamp: %w", err)
	}
	return ts, id, nil
}
