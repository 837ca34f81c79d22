package task

import "fab/enumerator/internal/domain"

// RangeJobTask asks a worker to walk every sort order of one price range.
type RangeJobTask struct {
	Job domain.Job `json:"job"`
}

func (t *RangeJobTask) TaskType() string {
	return "RangeJobTask"
}

func (t *RangeJobTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
