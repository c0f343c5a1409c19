// Package policy decides how long a paste lives and how large it may be.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	DefaultTTL        = time.Hour
	MaxTTL            = 30 * 24 * time.Hour
	LongTermThreshold = 7 * 24 * time.Hour

	ShortTermMaxBytes = 2 * 1024 * 1024
	// 0.6 MiB, truncated.
	LongTermMaxBytes = 629145
)

// NoExpiry is the resolved TTL of a permanent paste.
const NoExpiry time.Duration = 0

// permanentSentinel is the legacy wire value for "never expire".
const permanentSentinel = -1

// TTLRequest is the client's ttl field as sent on the wire. It tells apart
// an omitted field, an explicit null and a number.
type TTLRequest struct {
	Set       bool
	Permanent bool
	Seconds   int64
}

// Seconds builds a request for a numeric ttl.
func Seconds(n int64) TTLRequest {
	if n == permanentSentinel {
		return Permanent()
	}
	return TTLRequest{Set: true, Seconds: n}
}

// Permanent builds a request for a paste that never expires.
func Permanent() TTLRequest {
	return TTLRequest{Set: true, Permanent: true}
}

func (r *TTLRequest) UnmarshalJSON(data []byte) error {
	r.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.Permanent = true
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ttl must be a number or null")
	}
	// Out-of-range literals such as 1e400 parse to ±Inf with a range error
	// and are clamped like any other huge value.
	f, err := n.Float64()
	if err != nil && !math.IsInf(f, 0) {
		return fmt.Errorf("ttl must be a number or null")
	}

	switch {
	case f == permanentSentinel:
		*r = Permanent()
	case f >= MaxTTL.Seconds():
		*r = TTLRequest{Set: true, Seconds: int64(MaxTTL / time.Second)}
	case f <= 0:
		*r = TTLRequest{Set: true}
	default:
		*r = TTLRequest{Set: true, Seconds: int64(f)}
	}
	return nil
}

// Resolve maps a request to the TTL actually stored. Omitted or non-positive
// values fall back to DefaultTTL, positive values are capped at MaxTTL and
// permanent requests resolve to NoExpiry.
func Resolve(req TTLRequest) time.Duration {
	switch {
	case !req.Set:
		return DefaultTTL
	case req.Permanent:
		return NoExpiry
	case req.Seconds <= 0:
		return DefaultTTL
	}

	if req.Seconds >= int64(MaxTTL/time.Second) {
		return MaxTTL
	}
	return time.Duration(req.Seconds) * time.Second
}

// MaxBytes is the largest ciphertext accepted for a resolved ttl.
func MaxBytes(ttl time.Duration) int {
	if ttl == NoExpiry || ttl > LongTermThreshold {
		return LongTermMaxBytes
	}
	return ShortTermMaxBytes
}

// Check reports whether size bytes are acceptable for ttl, with the limit
// that applied.
func Check(size int, ttl time.Duration) (ok bool, limit int) {
	limit = MaxBytes(ttl)
	return size <= limit, limit
}
