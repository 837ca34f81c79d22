package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fab/enumerator/internal/domain"
	"fab/enumerator/internal/domain/task"
	"fab/enumerator/internal/queue"
	"fab/enumerator/internal/throttle"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrNoQueue = errors.New("work queue not configured")

var (
	jobStream   = queue.StreamName((&task.RangeJobTask{}).TaskType())
	retryStream = queue.StreamName((&task.RangeRetryTask{}).TaskType())
)

// EnqueueAll publishes one task per range job of every leaf category.
func (s *Service) EnqueueAll(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, ErrNoQueue
	}

	leaves, err := s.Leaves(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load categories: %w", err)
	}

	count := 0
	for _, leaf := range leaves {
		for _, job := range s.planner.Jobs(leaf) {
			if _, err := s.queue.AddTask(ctx, &task.RangeJobTask{Job: job}); err != nil {
				return count, fmt.Errorf("failed to enqueue job for %s: %w", leaf.Key(), err)
			}
			count++
		}
	}

	log.Infof("✅ Enqueued %d range jobs for %d leaf categories", count, len(leaves))
	return count, nil
}

// RunWorkers consumes range jobs until ctx is done. Retry tasks get half as
// many workers as new jobs.
func (s *Service) RunWorkers(ctx context.Context, numWorkers int) error {
	if s.queue == nil {
		return ErrNoQueue
	}

	var wg sync.WaitGroup

	s.runWorkersForStream(ctx, &wg, numWorkers, jobStream, "main")
	s.runWorkersForStream(ctx, &wg, max(numWorkers/2, 1), retryStream, "retry")

	wg.Wait()
	s.logPending(context.WithoutCancel(ctx))
	return ctx.Err()
}

// logPending reports the messages left unacknowledged on shutdown
func (s *Service) logPending(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, stream := range []string{jobStream, retryStream} {
		pending, err := s.queue.Pending(ctx, stream)
		if err != nil {
			log.Warnf("⚠️ Failed to read pending messages of %s: %v", stream, err)
			continue
		}
		if pending > 0 {
			log.Infof("📬 %d messages pending on %s, they will be auto-claimed on restart", pending, stream)
		}
	}
}

// jobPacer spaces the jobs taken by one consumer: a long delay when the
// category changes, a short one between jobs of the same category.
type jobPacer struct {
	last string
}

func (jp *jobPacer) next(category string) (throttle.Pace, bool) {
	prev := jp.last
	jp.last = category
	switch {
	case prev == "":
		return throttle.Short, false
	case prev != category:
		return throttle.Long, true
	default:
		return throttle.Short, true
	}
}

func (s *Service) paceJob(ctx context.Context, jp *jobPacer, job domain.Job) error {
	pace, wait := jp.next(job.Category.Key())
	if !wait {
		return nil
	}
	return s.pacer.Wait(ctx, pace)
}

func (s *Service) runWorkersForStream(ctx context.Context, wg *sync.WaitGroup, numWorkers int, streamName, workerType string) {
	// Auto-claimer for this stream
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.options.MinIdleTime)
		defer ticker.Stop()
		jp := &jobPacer{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				consumer := fmt.Sprintf("autoclaimer-%s-%d", workerType, time.Now().UnixNano())
				claimedMessages, err := s.queue.AutoClaim(ctx, consumer, streamName, s.options.MinIdleTime)
				if err != nil {
					log.Errorf("❌ Failed to auto-claim messages for %s: %v", streamName, err)
					continue
				}
				if len(claimedMessages) > 0 {
					log.Infof("🔄 Auto-claimed %d messages from %s stream", len(claimedMessages), workerType)
					for _, msg := range claimedMessages {
						if err := s.processMessage(ctx, &msg, jp); err != nil {
							log.Errorf("❌ Failed to process auto-claimed message %s: %v", msg.ID, err)
						}
					}
				}
			}
		}
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			consumer := fmt.Sprintf("%s-worker-%d", workerType, workerID)
			jp := &jobPacer{}
			log.Infof("🚀 Starting %s worker %d as consumer %s", workerType, workerID, consumer)
			for {
				select {
				case <-ctx.Done():
					log.Infof("🛑 %s worker %d stopping", workerType, workerID)
					return
				default:
					msg, err := s.queue.GetTask(ctx, consumer, streamName)
					if err != nil {
						if ctx.Err() == nil {
							log.Errorf("❌ Failed to get task from %s: %v", streamName, err)
							s.backoffPoll(ctx)
						}
						continue
					}

					if msg != nil {
						if err := s.processMessage(ctx, msg, jp); err != nil {
							log.Errorf("❌ Failed to process message %s: %v", msg.ID, err)
						}
					}
				}
			}
		}(i + 1)
	}
}

// backoffPoll waits before the queue is polled again after an error
func (s *Service) backoffPoll(ctx context.Context) {
	timer := time.NewTimer(s.pollBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processMessage runs the job carried by msg. The message is acknowledged
// once the job finished or was handed to the retry stream; on error it
// stays pending and is auto-claimed later.
func (s *Service) processMessage(ctx context.Context, msg *redis.XMessage, jp *jobPacer) error {
	taskType, ok := msg.Values["task_type"].(string)
	if !ok {
		return fmt.Errorf("invalid task type in message %s", msg.ID)
	}

	taskData, ok := msg.Values["task_data"].(string)
	if !ok {
		return fmt.Errorf("invalid task data in message %s", msg.ID)
	}

	var streamName string
	switch taskType {
	case (&task.RangeJobTask{}).TaskType():
		streamName = jobStream
		jobTask, err := task.UnmarshalTask[*task.RangeJobTask]([]byte(taskData))
		if err != nil {
			return fmt.Errorf("failed to unmarshal range job task data: %w", err)
		}
		if err := s.paceJob(ctx, jp, jobTask.Job); err != nil {
			return err
		}

		report := &Report{}
		complete, err := s.runJob(ctx, jobTask.Job, report)
		if err != nil {
			return fmt.Errorf("failed to run range job: %w", err)
		}
		if !complete {
			retryTask := &task.RangeRetryTask{
				Job:   jobTask.Job,
				Error: incompleteReason(report),
			}
			if _, err := s.queue.AddTask(ctx, retryTask); err != nil {
				return fmt.Errorf("failed to add retry task: %w", err)
			}
			log.Warnf("🔄 Range job %s %s incomplete, added to retry queue",
				jobTask.Job.Category.Key(), rangeLabel(jobTask.Job.Range))
		}

	case (&task.RangeRetryTask{}).TaskType():
		streamName = retryStream
		retryTask, err := task.UnmarshalTask[*task.RangeRetryTask]([]byte(taskData))
		if err != nil {
			return fmt.Errorf("failed to unmarshal retry task data: %w", err)
		}
		if err := s.paceJob(ctx, jp, retryTask.Job); err != nil {
			return err
		}

		if err := s.retryJob(ctx, retryTask); err != nil {
			return fmt.Errorf("failed to retry range job: %w", err)
		}

	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}

	if err := s.queue.AckTask(ctx, streamName, msg.ID); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	return nil
}

func (s *Service) retryJob(ctx context.Context, retryTask *task.RangeRetryTask) error {
	retryTask.RetryCount++

	log.Infof("🔄 Retrying range job %s %s (attempt %d)",
		retryTask.Job.Category.Key(), rangeLabel(retryTask.Job.Range), retryTask.RetryCount)

	report := &Report{}
	complete, err := s.runJob(ctx, retryTask.Job, report)
	if err != nil {
		return err
	}
	if complete {
		log.Infof("✅ Recovered range job %s %s after %d retries",
			retryTask.Job.Category.Key(), rangeLabel(retryTask.Job.Range), retryTask.RetryCount)
		return nil
	}

	if retryTask.RetryCount >= s.options.MaxRetries {
		log.Errorf("❌ Giving up on range job %s %s after %d retries: %s",
			retryTask.Job.Category.Key(), rangeLabel(retryTask.Job.Range), retryTask.RetryCount, incompleteReason(report))
		return nil
	}

	next := &task.RangeRetryTask{
		Job:        retryTask.Job,
		RetryCount: retryTask.RetryCount,
		Error:      incompleteReason(report),
	}
	if _, err := s.queue.AddTask(ctx, next); err != nil {
		return fmt.Errorf("failed to re-add retry task: %w", err)
	}
	return nil
}

func incompleteReason(report *Report) string {
	report.mu.Lock()
	defer report.mu.Unlock()
	return fmt.Sprintf("%d partitions incomplete, %d held by another worker", len(report.Incomplete), report.Busy)
}
