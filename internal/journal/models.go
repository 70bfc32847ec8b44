package journal

import "time"

// RunStatus is the outcome of one symdeploy command.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunDeclined  RunStatus = "declined"
	RunFailed    RunStatus = "failed"
)

// Run is one deploy or purge invocation.
type Run struct {
	ID         int64
	Command    string
	Game       string
	TargetDir  string
	Status     RunStatus
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// Operation is the recorded outcome of one link or unlink.
type Operation struct {
	Num          uint64
	Kind         string
	Source       string
	Destination  string
	Result       string
	ErrorCode    string
	ErrorMessage string
	CompletedAt  time.Time
}
