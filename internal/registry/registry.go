// Package registry records which categories have been discovered and which
// partitions have been enumerated, so that a crawl can be resumed.
package registry

import (
	"context"
	"time"

	"fab/enumerator/internal/domain"
)

// Registry is the visited registry shared by discovery and enumeration.
// Every write is durable once the call returns. Entries are never removed.
type Registry interface {
	// AddCategory records a node unless its key is already present. It
	// reports whether this call added it.
	AddCategory(ctx context.Context, node domain.CategoryNode) (bool, error)
	// Categories returns every recorded node in discovery order.
	Categories(ctx context.Context) ([]domain.CategoryNode, error)

	// MarkExpanded records that every child link on the page at url was
	// recorded.
	MarkExpanded(ctx context.Context, url string) error
	IsExpanded(ctx context.Context, url string) (bool, error)

	// CompletePartition stores the outcome of a finished walk. The first
	// outcome stored for a key wins.
	CompletePartition(ctx context.Context, outcome domain.PartitionOutcome) error
	// PartitionOutcome returns the stored outcome or nil if the partition
	// has not been completed.
	PartitionOutcome(ctx context.Context, key string) (*domain.PartitionOutcome, error)

	// ClaimPartition takes exclusive ownership of a partition for ttl. It
	// reports false if the partition is already held.
	ClaimPartition(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// RenewPartition extends a claim held by this owner to ttl from now. It
	// reports false once the claim has expired or passed to another owner.
	RenewPartition(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleasePartition drops the claim if this owner still holds it.
	ReleasePartition(ctx context.Context, key string) error
}
