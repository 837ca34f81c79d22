package walker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/registry"
	"fab/enumerator/internal/retry"
	"fab/enumerator/internal/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSearcher serves a fixed sequence of pages, one per call
type scriptedSearcher struct {
	mu      sync.Mutex
	pages   []*domain.SearchPage
	errs    map[int]error
	calls   int
	cursors []string
}

func (s *scriptedSearcher) Search(_ context.Context, _ domain.SearchQuery, cursor string) (*domain.SearchPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++
	s.cursors = append(s.cursors, cursor)

	if err, ok := s.errs[call]; ok {
		return nil, err
	}
	if call >= len(s.pages) {
		return &domain.SearchPage{}, nil
	}
	return s.pages[call], nil
}

func items(prefix string, n int) []domain.RawItem {
	out := make([]domain.RawItem, n)
	for i := range out {
		out[i] = domain.RawItem(fmt.Sprintf(`{"uid":"%s-%d"}`, prefix, i))
	}
	return out
}

func testPartition() domain.Partition {
	return domain.Partition{
		Category: domain.CategoryNode{Name: "Music", TypePath: "audio/music"},
		Sort:     domain.SortRelevance,
	}
}

func newTestWalker(s Searcher, reg registry.Registry) *Walker {
	return New(s, reg, throttle.NoDelay(), retry.Policy{MaxAttempts: 2}, 100)
}

func collect(dst *[]domain.RawItem) YieldFunc {
	return func(item domain.RawItem) error {
		*dst = append(*dst, item)
		return nil
	}
}

func TestWalk_EmptyFirstPage(t *testing.T) {
	s := &scriptedSearcher{pages: []*domain.SearchPage{{Next: "ignored"}}}
	reg := registry.NewMemoryRegistry()

	var got []domain.RawItem
	outcome, err := newTestWalker(s, reg).Walk(context.Background(), testPartition(), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, domain.TerminationEmpty, outcome.Termination)
	assert.Empty(t, got)

	stored, err := reg.PartitionOutcome(context.Background(), testPartition().Key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TerminationEmpty, stored.Termination)
}

func TestWalk_FollowsCursorUntilExhausted(t *testing.T) {
	s := &scriptedSearcher{pages: []*domain.SearchPage{
		{Items: items("a", 10), Next: "c1"},
		{Items: items("b", 10), Next: "c2"},
		{Items: items("c", 5)},
	}}
	reg := registry.NewMemoryRegistry()

	var got []domain.RawItem
	outcome, err := newTestWalker(s, reg).Walk(context.Background(), testPartition(), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, []string{"", "c1", "c2"}, s.cursors)
	assert.Len(t, got, 25)
	assert.Equal(t, domain.TerminationExhausted, outcome.Termination)
	assert.Equal(t, 3, outcome.Pages)
	assert.Equal(t, 25, outcome.Items)
	assert.False(t, outcome.Saturated)
	assert.Equal(t, 1, reg.CompletedPartitions())
}

func TestWalk_RepeatedTokenOnThirdPage(t *testing.T) {
	s := &scriptedSearcher{pages: []*domain.SearchPage{
		{Items: items("a", 10), Next: "c1"},
		{Items: items("b", 10), Next: "c2"},
		{Items: items("c", 10), Next: "c2"},
		{Items: items("d", 10)},
	}}
	reg := registry.NewMemoryRegistry()

	var got []domain.RawItem
	outcome, err := newTestWalker(s, reg).Walk(context.Background(), testPartition(), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, 3, s.calls)
	assert.Len(t, got, 30)
	assert.Equal(t, domain.TerminationRepeatedCursor, outcome.Termination)
	assert.Equal(t, 1, reg.CompletedPartitions())
}

func TestWalk_CursorCycle(t *testing.T) {
	s := &scriptedSearcher{pages: []*domain.SearchPage{
		{Items: items("a", 1), Next: "c1"},
		{Items: items("b", 1), Next: "c2"},
		{Items: items("c", 1), Next: "c1"},
	}}

	outcome, err := newTestWalker(s, registry.NewMemoryRegistry()).Walk(context.Background(), testPartition(), collect(new([]domain.RawItem)))
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, domain.TerminationRepeatedCursor, outcome.Termination)
}

func TestWalk_SaturatedAtCap(t *testing.T) {
	pages := make([]*domain.SearchPage, 0, 10)
	for i := 0; i < 10; i++ {
		next := fmt.Sprintf("c%d", i+1)
		if i == 9 {
			next = ""
		}
		pages = append(pages, &domain.SearchPage{Items: items(fmt.Sprint(i), 10), Next: next})
	}
	s := &scriptedSearcher{pages: pages}

	outcome, err := newTestWalker(s, registry.NewMemoryRegistry()).Walk(context.Background(), testPartition(), collect(new([]domain.RawItem)))
	require.NoError(t, err)
	assert.Equal(t, 100, outcome.Items)
	assert.True(t, outcome.Saturated)
}

func TestWalk_FetchFailureLeavesPartitionIncomplete(t *testing.T) {
	boom := errors.New("connection reset")
	s := &scriptedSearcher{
		pages: []*domain.SearchPage{{Items: items("a", 10), Next: "c1"}},
		errs:  map[int]error{1: boom, 2: boom},
	}
	reg := registry.NewMemoryRegistry()

	var got []domain.RawItem
	outcome, err := newTestWalker(s, reg).Walk(context.Background(), testPartition(), collect(&got))
	require.NoError(t, err)

	assert.Equal(t, domain.TerminationFetchFailed, outcome.Termination)
	assert.Equal(t, 3, s.calls, "initial page plus two attempts at the second")
	assert.Len(t, got, 10)
	assert.Equal(t, 0, reg.CompletedPartitions())
}

func TestWalk_TransientFailureIsRetried(t *testing.T) {
	s := &scriptedSearcher{
		pages: []*domain.SearchPage{nil, {Items: items("a", 3)}},
		errs:  map[int]error{0: errors.New("timeout")},
	}

	outcome, err := newTestWalker(s, registry.NewMemoryRegistry()).Walk(context.Background(), testPartition(), collect(new([]domain.RawItem)))
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationExhausted, outcome.Termination)
	assert.Equal(t, 3, outcome.Items)
}

func TestWalk_CancelledDuringWalk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scriptedSearcher{pages: []*domain.SearchPage{
		{Items: items("a", 2), Next: "c1"},
		{Items: items("b", 2)},
	}}
	reg := registry.NewMemoryRegistry()

	yield := func(domain.RawItem) error {
		cancel()
		return nil
	}

	outcome, err := newTestWalker(s, reg).Walk(ctx, testPartition(), yield)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.TerminationCancelled, outcome.Termination)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 0, reg.CompletedPartitions())
}

func TestWalk_SinkFailure(t *testing.T) {
	s := &scriptedSearcher{pages: []*domain.SearchPage{{Items: items("a", 5)}}}
	reg := registry.NewMemoryRegistry()
	sinkErr := errors.New("disk full")

	outcome, err := newTestWalker(s, reg).Walk(context.Background(), testPartition(), func(domain.RawItem) error {
		return sinkErr
	})
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, domain.TerminationSinkFailed, outcome.Termination)
	assert.Equal(t, 0, reg.CompletedPartitions())
}
