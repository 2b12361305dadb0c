package sizes

import (
	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/image-sizes/internal/keys"
)

// Result codes understood by S3 Batch Operations.
const (
	ResultSucceeded        = "Succeeded"
	ResultTemporaryFailure = "TemporaryFailure"
	ResultPermanentFailure = "PermanentFailure"
)

// Result strings for the non-error outcomes.
const (
	MsgSkipped       = "file was skipped"
	MsgCreated       = "thumb and medium created"
	MsgRetryTimeout  = "Retry request to Amazon S3 due to timeout."
	exceptionPrefix  = "Exception: "
	treatMissingKeys = ResultPermanentFailure
)

// Task is one object handed to the job by S3 Batch Operations, together
// with the invocation it arrived in.
type Task struct {
	JobID                   string
	InvocationID            string
	InvocationSchemaVersion string
	TaskID                  string
	// SourceKey is the key as delivered, still percent-plus-encoded.
	SourceKey       string
	SourceVersionID string
	BucketARN       string
}

// Bucket is the bucket name taken from BucketARN.
func (t Task) Bucket() string {
	return keys.BucketFromARN(t.BucketARN)
}

// TasksFromEvent flattens an invocation into Tasks, preserving order.
func TasksFromEvent(event events.S3BatchJobEvent) []Task {
	tasks := make([]Task, 0, len(event.Tasks))
	for _, t := range event.Tasks {
		tasks = append(tasks, Task{
			JobID:                   event.Job.ID,
			InvocationID:            event.InvocationID,
			InvocationSchemaVersion: event.InvocationSchemaVersion,
			TaskID:                  t.TaskID,
			SourceKey:               t.S3Key,
			SourceVersionID:         t.S3VersionID,
			BucketARN:               t.S3BucketARN,
		})
	}
	return tasks
}
