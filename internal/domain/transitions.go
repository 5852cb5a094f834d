package domain

import "fmt"

// jobTransitions is the closed set of legal status transitions. RUNNING back
// to QUEUED covers lease-expiry reclaim of jobs whose worker died mid-flight.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:    {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning:   {JobStatusSucceeded, JobStatusFailed, JobStatusQueued},
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// TransitionError reports an attempt to move a job between states the
// lifecycle does not allow.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal status transition %s -> %s", e.JobID, e.From, e.To)
}

// IsTerminal reports whether s admits no further transitions.
func IsTerminal(s JobStatus) bool {
	return len(jobTransitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a TransitionError unless from -> to is legal.
func CheckTransition(jobID string, from, to JobStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{JobID: jobID, From: from, To: to}
	}
	return nil
}
