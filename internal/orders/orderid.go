package orders

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// IDFunc produces a candidate order id. Candidates may collide; the store's
// uniqueness check decides.
type IDFunc func(now time.Time) string

// DateSuffixID returns ids like "20261015-4821": the UTC date and four random
// digits, short enough to read out over the phone.
func DateSuffixID(now time.Time) string {
	return fmt.Sprintf("%s-%04d", now.UTC().Format("20060102"), 1000+rand.IntN(9000))
}
