package memory

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out identities for created records that have none.
type IDGenerator interface {
	NextID(model string) interface{}
}

// SequenceGenerator counts from 1 per model.
type SequenceGenerator struct {
	mu   sync.Mutex
	next map[string]int
}

func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{next: make(map[string]int)}
}

func (g *SequenceGenerator) NextID(model string) interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next[model]++
	return g.next[model]
}

// observe moves the sequence past ids that were stored externally.
func (g *SequenceGenerator) observe(model, id string) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if n > g.next[model] {
		g.next[model] = n
	}
}

type UUIDGenerator struct{}

func (UUIDGenerator) NextID(string) interface{} {
	return uuid.NewString()
}
