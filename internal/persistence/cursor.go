// Package persistence holds the page tokens shared by the workout repositories.
package persistence

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/treniren/internal/domain"
)

// ErrInvalidCursor is returned for page tokens this package did not issue.
var ErrInvalidCursor = errors.New("invalid page token")

// A token is "<start time in unix nanoseconds>:<workout id>", URL-safe base64.
const cursorSep = ":"

// EncodeCursor turns the position after the last listed workout into a page token.
// A nil cursor (no further pages) encodes as "".
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.StartTime.UnixNano(), 10) + cursorSep + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. A blank token means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, found := strings.Cut(string(raw), cursorSep)
	if !found || id == "" {
		return nil, fmt.Errorf("%w: missing workout id", ErrInvalidCursor)
	}
	ns, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: start time %q", ErrInvalidCursor, nanos)
	}
	return &domain.Cursor{StartTime: time.Unix(0, ns).UTC(), ID: id}, nil
}
