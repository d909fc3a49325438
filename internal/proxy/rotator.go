// Package proxy supplies one proxy URL and one user agent per outbound
// request. Rotation state is internal; callers just ask for the next
// pair.
package proxy

import (
	"math/rand"
	"sync"
)

// Built-in desktop user agents used when the configuration does not
// provide its own list.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Rotator hands out proxies round-robin and user agents at random.
// An empty proxy list yields "" (direct connection).
type Rotator struct {
	mu      sync.Mutex
	proxies []string
	agents  []string
	next    int
	rnd     *rand.Rand
}

func NewRotator(proxies, userAgents []string, seed int64) *Rotator {
	agents := userAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &Rotator{
		proxies: append([]string(nil), proxies...),
		agents:  append([]string(nil), agents...),
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

// NextProxy returns the next proxy URL round-robin, or "" when no
// proxies are configured.
func (r *Rotator) NextProxy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return ""
	}
	p := r.proxies[r.next%len(r.proxies)]
	r.next++
	return p
}

// NextUserAgent returns a randomly chosen user agent string.
func (r *Rotator) NextUserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[r.rnd.Intn(len(r.agents))]
}
