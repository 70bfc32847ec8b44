package deploy

import (
	"errors"
	"time"
)

// Result is the outcome of one operation.
type Result struct {
	Num         uint64
	Kind        string
	Source      string
	Destination string
	Err         *OperationError
	CompletedAt time.Time
	Elapsed     time.Duration
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary aggregates the operations completed since the previous Finalize.
type Summary struct {
	Linked       int
	Unlinked     int
	Results      []Result
	Failures     []OperationError
	NotSupported []string
}

// Failed returns the number of failed operations.
func (s Summary) Failed() int {
	return len(s.Failures)
}

// Total returns the number of operations that finished, failed or not.
func (s Summary) Total() int {
	return len(s.Results)
}

// Err joins every operation failure, or returns nil when all succeeded.
func (s Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(s.Failures))
	for i := range s.Failures {
		errs = append(errs, &s.Failures[i])
	}
	return errors.Join(errs...)
}

func (s *Summary) record(result Result) {
	s.Results = append(s.Results, result)
	if result.Err != nil {
		s.Failures = append(s.Failures, *result.Err)
		if result.Err.NotSupported {
			s.NotSupported = append(s.NotSupported, result.Destination)
		}
		return
	}
	switch result.Kind {
	case KindLink:
		s.Linked++
	case KindUnlink:
		s.Unlinked++
	}
}
