package stream

import (
	"errors"
	"sync"
)

// defaultMaxTotal caps concurrent streams across all clients when the
// configuration leaves it unset.
const defaultMaxTotal = 1000

var (
	errIPLimit    = errors.New("too many concurrent streams from this address")
	errTotalLimit = errors.New("too many concurrent streams")
)

// streamLimiter counts open progress streams per client address and overall.
type streamLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	total       int
	maxPerIP    int
	maxTotal    int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	if maxTotal <= 0 {
		maxTotal = defaultMaxTotal
	}
	return &streamLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
		maxTotal:    maxTotal,
	}
}

// acquire registers a stream for ip, or reports which limit refused it.
func (l *streamLimiter) acquire(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return errTotalLimit
	}
	if l.connections[ip] >= l.maxPerIP {
		return errIPLimit
	}
	l.connections[ip]++
	l.total++
	return nil
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.connections[ip]
	if n == 0 {
		return
	}
	if n == 1 {
		delete(l.connections, ip)
	} else {
		l.connections[ip] = n - 1
	}
	l.total--
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

func (l *streamLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
