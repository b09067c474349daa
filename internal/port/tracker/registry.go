package tracker

import (
	"fmt"
	"sync"

	"github.com/Strob0t/LaneSync/internal/domain/board"
)

// Factory is a constructor function that creates a Client for one account.
type Factory func(cfg Config) (Client, error)

var (
	mu        sync.RWMutex
	factories = make(map[board.Provider]Factory)
)

// Register makes a tracker factory available by provider.
// It is typically called from an init() function in the adapter package.
func Register(p board.Provider, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[p]; exists {
		panic(fmt.Sprintf("tracker: duplicate registration for %q", p))
	}
	factories[p] = factory
}

// New creates a Client by provider using the registered factory.
func New(p board.Provider, cfg Config) (Client, error) {
	mu.RLock()
	factory, ok := factories[p]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tracker: unknown provider %q", p)
	}
	return factory(cfg)
}

// Available returns the providers of all registered factories.
func Available() []board.Provider {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]board.Provider, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
