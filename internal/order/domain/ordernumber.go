package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const OrderNumberPrefix = "ORD-"

// OrderNumberFunc produces a human-readable order number for the given time.
type OrderNumberFunc func(now time.Time) string

// GenerateOrderNumber returns ORD-<yyyyMMddHHmmss>-<0..999>. Uniqueness is not
// guaranteed here; the store enforces it and creation retries on collision.
func GenerateOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s%s-%d", OrderNumberPrefix, now.Format("20060102150405"), rand.IntN(1000))
}
