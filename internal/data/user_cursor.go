package data

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/herald-notify/herald/internal/domain/bulk"
)

// ErrInvalidCursor is returned when a pagination token cannot be decoded or
// carries an out-of-range position.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// UserCursor is the internal position of a cross-shard recipient listing: the
// shard being read and the last user id consumed within it. Callers only ever
// see the encoded token; the shard structure never leaks into the API.
type UserCursor struct {
	Shard int     `json:"shard"`
	After *string `json:"after,omitempty"`
}

// EncodeUserCursor serializes a cursor into an opaque token.
func EncodeUserCursor(cur UserCursor) (string, error) {
	raw, err := json.Marshal(cur)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeUserCursor parses an opaque token back into a cursor. An empty token
// yields the start position: the first shard, no resume point.
func DecodeUserCursor(token string) (UserCursor, error) {
	if token == "" {
		return UserCursor{Shard: 1}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return UserCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var cur UserCursor
	if err := json.Unmarshal(raw, &cur); err != nil {
		return UserCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if cur.Shard < 1 || cur.Shard > bulk.ShardCount {
		return UserCursor{}, fmt.Errorf("%w: shard out of range", ErrInvalidCursor)
	}
	if cur.After != nil && *cur.After == "" {
		cur.After = nil
	}
	return cur, nil
}
