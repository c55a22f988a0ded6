// Package pagination encodes opaque keyset cursors for list endpoints.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corkboard/server/internal/domain/ids"
	"github.com/corkboard/server/internal/domain/scans"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeScanCursor encodes the cursor as base64(created_at_unix_nano:scan ULID).
func EncodeScanCursor(c scans.ListCursor) string {
	value := fmt.Sprintf("%d:%s", c.CreatedAt.UTC().UnixNano(), strings.ToUpper(strings.TrimSpace(c.ScanID)))
	return base64.RawURLEncoding.EncodeToString([]byte(value))
}

// DecodeScanCursor reverses EncodeScanCursor.
func DecodeScanCursor(cursor string) (scans.ListCursor, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return scans.ListCursor{}, ErrInvalidCursor
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return scans.ListCursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return scans.ListCursor{}, ErrInvalidCursor
	}
	unixNano, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || unixNano < 0 {
		return scans.ListCursor{}, ErrInvalidCursor
	}
	if err := ids.ValidateULID(id); err != nil {
		return scans.ListCursor{}, ErrInvalidCursor
	}
	return scans.ListCursor{CreatedAt: time.Unix(0, unixNano).UTC(), ScanID: strings.ToUpper(id)}, nil
}
