package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateSuffixID(t *testing.T) {
	now := time.Date(2026, 10, 15, 23, 30, 0, 0, time.FixedZone("CST", 8*3600))
	for i := 0; i < 100; i++ {
		id := DateSuffixID(now)
		assert.Regexp(t, `^20261015-[1-9]\d{3}$`, id, "date is taken in UTC")
	}
}
