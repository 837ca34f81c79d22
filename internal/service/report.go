package service

import (
	"sync"

	"fab/enumerator/internal/discovery"

	log "github.com/sirupsen/logrus"
)

// Report is the outcome of an enumeration pass
type Report struct {
	Discovery *discovery.Report `json:"discovery,omitempty"`

	Categories   int      `json:"categories"`    // Leaf categories enumerated
	Jobs         int      `json:"jobs"`          // Range jobs run, including split children
	Planned      int      `json:"planned"`       // Partitions planned
	Completed    int      `json:"completed"`     // Partitions walked to a terminal page
	Reused       int      `json:"reused"`        // Partitions already complete in the registry
	Redundant    int      `json:"redundant"`     // Partitions skipped because the range was covered
	Busy         int      `json:"busy"`          // Partitions held by another worker
	Incomplete   []string `json:"incomplete"`    // Partitions to pick up on the next run
	Splits       int      `json:"splits"`        // Ranges bisected after saturation
	Items        int      `json:"items"`         // Raw items yielded
	InvalidItems int      `json:"invalid_items"` // Items the normalizer rejected

	mu sync.Mutex
}

func (r *Report) update(fn func(r *Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Log prints the report summary
func (r *Report) Log() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Discovery != nil {
		log.Infof("📁 Categories: %d discovered, %d known, %d pages skipped",
			r.Discovery.Discovered, r.Discovery.Known, len(r.Discovery.SkippedPages))
		for _, page := range r.Discovery.SkippedPages {
			log.Warnf("⚠️ Skipped category page %s", page)
		}
	}

	log.Infof("📊 Partitions: %d planned, %d completed, %d reused, %d redundant, %d busy, %d incomplete",
		r.Planned, r.Completed, r.Reused, r.Redundant, r.Busy, len(r.Incomplete))
	log.Infof("📦 Items: %d fetched, %d rejected across %d categories and %d jobs (%d splits)",
		r.Items, r.InvalidItems, r.Categories, r.Jobs, r.Splits)

	for _, key := range r.Incomplete {
		log.Warnf("⚠️ Incomplete partition %s", key)
	}
}
