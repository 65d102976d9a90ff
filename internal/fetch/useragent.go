package fetch

import "sync"

// DefaultUserAgents is the fixed pool rotated across fetchers
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// AgentPool hands out user agents round-robin
type AgentPool struct {
	agents []string
	index  int
	mu     sync.Mutex
}

// NewAgentPool creates a pool, falling back to DefaultUserAgents when empty
func NewAgentPool(agents []string) *AgentPool {
	pool := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, DefaultUserAgents...)
	}
	return &AgentPool{agents: pool}
}

// Next returns the next agent in rotation
func (p *AgentPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent := p.agents[p.index]
	p.index = (p.index + 1) % len(p.agents)
	return agent
}

// Size returns the number of agents in the pool
func (p *AgentPool) Size() int {
	return len(p.agents)
}
