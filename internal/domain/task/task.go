package task

import "encoding/json"

type Task interface {
	TaskType() string
	TaskValue() ([]byte, error)
}

// Types lists every task type that has its own stream.
var Types = []string{
	(&RangeJobTask{}).TaskType(),
	(&RangeRetryTask{}).TaskType(),
}

// DefaultTaskValue provides a common implementation for TaskValue
func DefaultTaskValue(task any) ([]byte, error) {
	return json.Marshal(task)
}

// UnmarshalTask decodes task data into a freshly allocated T. T is usually a
// pointer type such as *RangeJobTask.
func UnmarshalTask[T Task](data []byte) (T, error) {
	var t T
	err := json.Unmarshal(data, &t)
	return t, err
}
