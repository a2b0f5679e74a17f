package idempotency

import (
	"errors"
	"net/http"
	"strings"
)

const (
	Header = "Idempotency-Key"
	// ReplayHeader is set on responses that return an earlier result.
	ReplayHeader = "Idempotent-Replayed"
	MaxLen       = 255
)

var ErrKeyTooLong = errors.New("idempotency key must be at most 255 characters")

// Key returns the trimmed header value; empty means the request is not
// idempotent.
func Key(r *http.Request) (string, error) {
	k := strings.TrimSpace(r.Header.Get(Header))
	if len(k) > MaxLen {
		return "", ErrKeyTooLong
	}
	return k, nil
}

func MarkReplay(w http.ResponseWriter) {
	w.Header().Set(ReplayHeader, "true")
}
