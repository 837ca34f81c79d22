package task

import "fab/enumerator/internal/domain"

type RangeRetryTask struct {
	Job        domain.Job `json:"job"`
	RetryCount int        `json:"retry_count"` // Number of times this job has been retried
	Error      string     `json:"error"`       // Reason the previous attempt was incomplete
}

func (t *RangeRetryTask) TaskType() string {
	return "RangeRetryTask"
}

func (t *RangeRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
