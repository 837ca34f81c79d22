package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fab/enumerator/internal/discovery"
	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/metrics"
	"fab/enumerator/internal/normalizer"
	"fab/enumerator/internal/planner"
	"fab/enumerator/internal/queue"
	"fab/enumerator/internal/registry"
	"fab/enumerator/internal/repository"
	"fab/enumerator/internal/throttle"
	"fab/enumerator/internal/walker"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// Options holds the scalar knobs of the service
type Options struct {
	RootURL       string
	Workers       int
	ClaimTTL      time.Duration
	AdaptiveSplit bool
	MaxSplitDepth int
	MaxRetries    int
	MinIdleTime   time.Duration // Pending messages older than this are auto-claimed
}

type Service struct {
	discoverer *discovery.Discoverer
	planner    *planner.Planner
	walker     *walker.Walker
	normalizer *normalizer.Normalizer
	repository repository.RecordRepository
	registry   registry.Registry
	pacer      *throttle.Pacer
	queue      queue.Queue
	options    Options

	pollBackoff time.Duration // Wait after a failed queue read
}

// NewService wires the engine. q may be nil when only in-process
// enumeration is used.
func NewService(
	discoverer *discovery.Discoverer,
	planner *planner.Planner,
	walker *walker.Walker,
	normalizer *normalizer.Normalizer,
	repository repository.RecordRepository,
	registry registry.Registry,
	pacer *throttle.Pacer,
	q queue.Queue,
	options Options,
) *Service {
	if options.Workers < 1 {
		options.Workers = 1
	}
	if options.MinIdleTime <= 0 {
		options.MinIdleTime = 2 * time.Minute
	}

	return &Service{
		discoverer: discoverer,
		planner:    planner,
		walker:     walker,
		normalizer: normalizer,
		repository: repository,
		registry:   registry,
		pacer:      pacer,
		queue:      q,
		options:    options,

		pollBackoff: time.Second,
	}
}

// Run discovers the category tree and then enumerates every leaf.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	discovered, err := s.Discover(ctx)
	if err != nil {
		return &Report{Discovery: discovered}, err
	}

	report, err := s.Enumerate(ctx)
	report.Discovery = discovered
	return report, err
}

func (s *Service) Discover(ctx context.Context) (*discovery.Report, error) {
	log.Infof("🔄 Discovering categories from %s", s.options.RootURL)

	return s.discoverer.Discover(ctx, s.options.RootURL, func(node domain.CategoryNode) error {
		log.Infof("📁 New category: %s (items: %d, leaf: %t)", node.Key(), node.ItemCount, node.IsLeaf())
		return nil
	})
}

// Leaves returns the leaf categories recorded in the registry, in discovery
// order.
func (s *Service) Leaves(ctx context.Context) ([]domain.CategoryNode, error) {
	nodes, err := s.registry.Categories(ctx)
	if err != nil {
		return nil, err
	}

	leaves := make([]domain.CategoryNode, 0, len(nodes))
	for _, node := range nodes {
		if node.IsLeaf() {
			leaves = append(leaves, node)
		}
	}
	return leaves, nil
}

// plannedJob is a job together with the delay taken before it starts
type plannedJob struct {
	job  domain.Job
	pace *throttle.Pace
}

func (s *Service) plan(leaves []domain.CategoryNode, report *Report) []plannedJob {
	short, long := throttle.Short, throttle.Long

	var planned []plannedJob
	for i, leaf := range leaves {
		jobs := s.planner.Jobs(leaf)
		for j, job := range jobs {
			pj := plannedJob{job: job}
			switch {
			case i == 0 && j == 0:
			case j == 0:
				pj.pace = &long
			default:
				pj.pace = &short
			}
			planned = append(planned, pj)
			report.Planned += len(job.Sorts)
		}
	}
	return planned
}

// Enumerate walks every partition of every leaf category in the registry.
// Jobs run on at most Workers goroutines.
func (s *Service) Enumerate(ctx context.Context) (*Report, error) {
	report := &Report{}

	leaves, err := s.Leaves(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load categories: %w", err)
	}
	report.Categories = len(leaves)

	jobs := s.plan(leaves, report)
	log.Infof("🔄 Enumerating %d leaf categories as %d range jobs (%d partitions) on %d workers",
		len(leaves), len(jobs), report.Planned, s.options.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Workers)

	for _, pj := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if pj.pace != nil {
				if err := s.pacer.Wait(gctx, *pj.pace); err != nil {
					return err
				}
			}
			_, err := s.runJob(gctx, pj.job, report)
			return err
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// runJob walks the sorts of one range in order and reports whether every
// partition of the range ended complete, reused or redundant.
func (s *Service) runJob(ctx context.Context, job domain.Job, report *Report) (bool, error) {
	report.update(func(r *Report) { r.Jobs++ })

	logger := log.WithFields(log.Fields{
		"category": job.Category.Key(),
		"range":    rangeLabel(job.Range),
	})

	var walked []*domain.PartitionOutcome
	covered, complete := false, true

	for i, p := range job.Partitions() {
		key := p.Key()

		if covered {
			report.update(func(r *Report) { r.Redundant++ })
			metrics.PartitionsRedundant.Inc()
			continue
		}

		outcome, err := s.registry.PartitionOutcome(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to read partition %s: %w", key, err)
		}

		if outcome != nil {
			report.update(func(r *Report) { r.Reused++ })
			metrics.PartitionsReused.Inc()
			logger.Debugf("⏭️ Partition %s already complete", key)
		} else {
			if i > 0 {
				if err := s.pacer.Wait(ctx, throttle.Short); err != nil {
					return false, err
				}
			}

			outcome, err = s.walkClaimed(ctx, p, report)
			if err != nil {
				// A record the sink refuses costs this partition, not the run
				if ctx.Err() != nil || outcome == nil || outcome.Termination != domain.TerminationSinkFailed {
					return false, err
				}
				logger.Errorf("❌ Partition %s stopped: %v", key, err)
			}
			if outcome == nil {
				report.update(func(r *Report) { r.Busy++ })
				complete = false
				continue
			}
			if !outcome.Termination.Complete() {
				report.update(func(r *Report) { r.Incomplete = append(r.Incomplete, key) })
				complete = false
				continue
			}
			report.update(func(r *Report) { r.Completed++ })
		}

		walked = append(walked, outcome)
		if coversRange(outcome, s.planner.PaginationCap()) {
			covered = true
			if i < len(job.Sorts)-1 {
				logger.Infof("✅ Range covered by %s with %d items, skipping remaining sorts", p.Sort, outcome.Items)
			}
		}
	}

	if covered || !complete || !s.options.AdaptiveSplit || !allSaturated(walked) {
		return complete, nil
	}

	return s.split(ctx, job, report, logger)
}

// errClaimLost cancels a walk whose claim could not be renewed
var errClaimLost = errors.New("partition claim lost")

// walkClaimed walks p while holding its claim. A nil outcome means another
// worker holds the claim. The claim is renewed for as long as the walk runs;
// a walk whose claim is lost stops and is reported as cancelled.
func (s *Service) walkClaimed(ctx context.Context, p domain.Partition, report *Report) (*domain.PartitionOutcome, error) {
	key := p.Key()

	claimed, err := s.registry.ClaimPartition(ctx, key, s.options.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim partition %s: %w", key, err)
	}
	if !claimed {
		log.Infof("⏭️ Partition %s is being walked by another worker", key)
		return nil, nil
	}
	defer func() {
		if err := s.registry.ReleasePartition(context.WithoutCancel(ctx), key); err != nil {
			log.Warnf("⚠️ Failed to release partition %s: %v", key, err)
		}
	}()

	walkCtx, cancel := context.WithCancelCause(ctx)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		s.keepClaim(walkCtx, key, cancel)
	}()

	outcome, err := s.walker.Walk(walkCtx, p, func(item domain.RawItem) error {
		report.update(func(r *Report) { r.Items++ })

		record, err := s.normalizer.Normalize(item, p)
		if err != nil {
			report.update(func(r *Report) { r.InvalidItems++ })
			log.Warnf("⚠️ Skipping item in %s: %v", key, err)
			return nil
		}
		return s.repository.SaveRecord(walkCtx, record)
	})

	cancel(nil)
	<-kept

	if errors.Is(context.Cause(walkCtx), errClaimLost) && ctx.Err() == nil {
		log.Warnf("⚠️ Lost claim on partition %s, leaving it to its new owner", key)
		return outcome, nil
	}
	return outcome, err
}

// keepClaim renews the claim on key until ctx is done. It cancels the walk
// once the claim has passed to another owner.
func (s *Service) keepClaim(ctx context.Context, key string, cancel context.CancelCauseFunc) {
	ttl := s.options.ClaimTTL
	if ttl <= 0 {
		return
	}

	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := s.registry.RenewPartition(ctx, key, ttl)
			if err != nil {
				if ctx.Err() == nil {
					log.Warnf("⚠️ Failed to renew claim on partition %s: %v", key, err)
				}
				continue
			}
			if !renewed {
				cancel(errClaimLost)
				return
			}
		}
	}
}

// split bisects a saturated range and runs both halves
func (s *Service) split(ctx context.Context, job domain.Job, report *Report, logger *log.Entry) (bool, error) {
	if job.Depth >= s.options.MaxSplitDepth {
		logger.Warnf("⚠️ Range saturated at split depth %d, results may be truncated", job.Depth)
		return true, nil
	}

	children, err := s.planner.SplitJob(job)
	if err != nil {
		if errors.Is(err, planner.ErrTooNarrow) {
			logger.Warnf("⚠️ Range saturated and too narrow to split, results may be truncated")
			return true, nil
		}
		return false, err
	}

	report.update(func(r *Report) {
		r.Splits++
		for _, child := range children {
			r.Planned += len(child.Sorts)
		}
	})
	logger.Infof("✂️ Range saturated on every sort, splitting into %s and %s",
		rangeLabel(children[0].Range), rangeLabel(children[1].Range))

	complete := true
	for _, child := range children {
		if err := s.pacer.Wait(ctx, throttle.Short); err != nil {
			return false, err
		}
		ok, err := s.runJob(ctx, child, report)
		if err != nil {
			return false, err
		}
		complete = complete && ok
	}
	return complete, nil
}

// coversRange reports whether a walk proves the range holds no more items
// than were served.
func coversRange(outcome *domain.PartitionOutcome, paginationCap int) bool {
	switch outcome.Termination {
	case domain.TerminationEmpty, domain.TerminationExhausted:
		return outcome.Items < paginationCap
	default:
		return false
	}
}

func allSaturated(outcomes []*domain.PartitionOutcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, outcome := range outcomes {
		if !outcome.Saturated {
			return false
		}
	}
	return true
}

func rangeLabel(r *domain.PriceRange) string {
	if r == nil {
		return "any"
	}
	return r.String()
}
