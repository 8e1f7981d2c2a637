package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor marks the last order key a reader has seen. The zero cursor
// means "from the beginning". Clients treat the string form as opaque.
type Cursor int64

const cursorPrefix = "s:"

func (c Cursor) String() string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(int64(c), 10)))
}

// ParseCursor decodes a cursor produced by Cursor.String. An empty
// string is the zero cursor. Plain integers are accepted too, so
// "since=0" works without first fetching a token.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("parse cursor: negative: %w", ErrInvalidInput)
		}
		return Cursor(n), nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("parse cursor: %w", ErrInvalidInput)
	}
	digits, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("parse cursor: bad prefix: %w", ErrInvalidInput)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse cursor: %w", ErrInvalidInput)
	}
	return Cursor(n), nil
}
