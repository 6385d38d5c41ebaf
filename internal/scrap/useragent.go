package scrap

import "math/rand"

// DefaultUserAgents pool of desktop browser identities. One is picked at
// random for every browser session so repeated visits do not present a
// constant client fingerprint.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) " +
		"Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) " +
		"Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// UserAgentPool hands out a random identity per session
type UserAgentPool struct {
	agents []string
}

// NewUserAgentPool builds a pool; an empty list falls back to the defaults
func NewUserAgentPool(agents []string) *UserAgentPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &UserAgentPool{agents: agents}
}

// Random returns one identity from the pool
func (p *UserAgentPool) Random() string {
	return p.agents[rand.Intn(len(p.agents))]
}
