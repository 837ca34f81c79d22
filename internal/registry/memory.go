package registry

import (
	"context"
	"sync"
	"time"

	"fab/enumerator/internal/domain"
)

// MemoryRegistry keeps the registry in process memory. It does not survive a
// restart and is meant for dry runs and tests.
type MemoryRegistry struct {
	*memoryState
	owner string
}

type memoryState struct {
	mu         sync.Mutex
	order      []string
	categories map[string]domain.CategoryNode
	expanded   map[string]bool
	partitions map[string]domain.PartitionOutcome
	claims     map[string]memoryClaim
	now        func() time.Time
}

type memoryClaim struct {
	owner  string
	expiry time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		memoryState: &memoryState{
			categories: make(map[string]domain.CategoryNode),
			expanded:   make(map[string]bool),
			partitions: make(map[string]domain.PartitionOutcome),
			claims:     make(map[string]memoryClaim),
			now:        time.Now,
		},
		owner: "local",
	}
}

// WithOwner returns a view of the same registry whose claims are made in
// the name of owner.
func (m *MemoryRegistry) WithOwner(owner string) *MemoryRegistry {
	return &MemoryRegistry{memoryState: m.memoryState, owner: owner}
}

func (m *MemoryRegistry) AddCategory(_ context.Context, node domain.CategoryNode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := node.Key()
	if _, exists := m.categories[key]; exists {
		return false, nil
	}
	m.categories[key] = node
	m.order = append(m.order, key)
	return true, nil
}

func (m *MemoryRegistry) Categories(_ context.Context) ([]domain.CategoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := make([]domain.CategoryNode, 0, len(m.order))
	for _, key := range m.order {
		nodes = append(nodes, m.categories[key])
	}
	return nodes, nil
}

func (m *MemoryRegistry) MarkExpanded(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expanded[url] = true
	return nil
}

func (m *MemoryRegistry) IsExpanded(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded[url], nil
}

func (m *MemoryRegistry) CompletePartition(_ context.Context, outcome domain.PartitionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.partitions[outcome.Key]; !exists {
		m.partitions[outcome.Key] = outcome
	}
	return nil
}

func (m *MemoryRegistry) PartitionOutcome(_ context.Context, key string) (*domain.PartitionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, exists := m.partitions[key]
	if !exists {
		return nil, nil
	}
	return &outcome, nil
}

func (m *MemoryRegistry) ClaimPartition(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if claim, held := m.claims[key]; held && now.Before(claim.expiry) {
		return false, nil
	}
	m.claims[key] = memoryClaim{owner: m.owner, expiry: now.Add(ttl)}
	return true, nil
}

func (m *MemoryRegistry) RenewPartition(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	claim, held := m.claims[key]
	if !held || claim.owner != m.owner || !now.Before(claim.expiry) {
		return false, nil
	}
	m.claims[key] = memoryClaim{owner: m.owner, expiry: now.Add(ttl)}
	return true, nil
}

func (m *MemoryRegistry) ReleasePartition(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if claim, held := m.claims[key]; held && claim.owner == m.owner {
		delete(m.claims, key)
	}
	return nil
}

// CompletedPartitions returns the number of stored outcomes.
func (m *MemoryRegistry) CompletedPartitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partitions)
}
