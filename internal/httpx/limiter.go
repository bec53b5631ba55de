package httpx

import (
	"sync"

	"golang.org/x/time/rate"
)

const defaultMaxShops = 10_000

// ShopLimiter throttles order submissions per shop. Shop ids come from the
// client, so at most maxShops limiters are tracked; idle ones are evicted
// first and beyond that unknown shops share one overflow limiter.
type ShopLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	maxShops int
	shops    map[string]*rate.Limiter
	overflow *rate.Limiter
}

func NewShopLimiter(perSec float64, burst int) *ShopLimiter {
	return &ShopLimiter{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		maxShops: defaultMaxShops,
		shops:    map[string]*rate.Limiter{},
		overflow: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (l *ShopLimiter) Allow(shopID string) bool {
	return l.limiter(shopID).Allow()
}

func (l *ShopLimiter) limiter(shopID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.shops[shopID]; ok {
		return lim
	}
	if len(l.shops) >= l.maxShops {
		l.evictIdle()
		if len(l.shops) >= l.maxShops {
			return l.overflow
		}
	}
	lim := rate.NewLimiter(l.perSec, l.burst)
	l.shops[shopID] = lim
	return lim
}

// evictIdle drops limiters whose bucket has refilled; a fresh limiter
// would behave the same.
func (l *ShopLimiter) evictIdle() {
	for id, lim := range l.shops {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.shops, id)
		}
	}
}

func (l *ShopLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shops)
}
