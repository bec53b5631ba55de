package httpx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShopLimiterIsPerShop(t *testing.T) {
	l := NewShopLimiter(0.001, 1)
	assert.True(t, l.Allow("shop-1"))
	assert.False(t, l.Allow("shop-1"))
	assert.True(t, l.Allow("shop-2"))
}

func TestShopLimiterStaysBounded(t *testing.T) {
	l := NewShopLimiter(0.001, 1)
	l.maxShops = 3

	// every shop spends its token, so none is idle
	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("busy-%d", i))
	}
	assert.Equal(t, 3, l.tracked())
	assert.False(t, l.Allow("busy-9"), "overflow shops share one exhausted limiter")
}

func TestShopLimiterEvictsIdleShops(t *testing.T) {
	l := NewShopLimiter(0.001, 1)
	l.maxShops = 2
	for i := 0; i < 50; i++ {
		// looked up but never spent: full buckets count as idle
		l.limiter(fmt.Sprintf("shop-%d", i))
	}
	assert.LessOrEqual(t, l.tracked(), 2)
}
