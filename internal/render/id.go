package render

import (
	"strconv"
	"sync"
	"time"
)

// IDGenerator issues render ids from a nanosecond clock. Ids are strictly
// increasing within the process even if the clock stalls or steps back.
type IDGenerator struct {
	mu    sync.Mutex
	last  int64
	clock func() time.Time
}

func NewIDGenerator(clock func() time.Time) *IDGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &IDGenerator{clock: clock}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.clock().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return strconv.FormatInt(n, 10)
}
