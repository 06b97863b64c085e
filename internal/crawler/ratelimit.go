package crawler

import (
	"math/rand"
	"time"
)

// rateLimiter enforces a per-host floor on request cadence: base delay plus
// uniform jitter. Not a token bucket; bursts are never allowed.
type rateLimiter struct {
	base   time.Duration
	jitter time.Duration
	last   map[string]time.Time

	now   func() time.Time
	sleep func(time.Duration)
	rnd   *rand.Rand
}

func newRateLimiter(base, jitter time.Duration) *rateLimiter {
	return &rateLimiter{
		base:   base,
		jitter: jitter,
		last:   map[string]time.Time{},
		now:    time.Now,
		sleep:  time.Sleep,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// wait blocks until the host's minimum inter-request interval has elapsed,
// then records the new request timestamp.
func (r *rateLimiter) wait(host string) {
	required := r.base
	if r.jitter > 0 {
		required += time.Duration(r.rnd.Float64() * float64(r.jitter))
	}
	if last, ok := r.last[host]; ok {
		if elapsed := r.now().Sub(last); elapsed < required {
			r.sleep(required - elapsed)
		}
	}
	r.last[host] = r.now()
}
