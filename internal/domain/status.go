package domain

// Status is the lifecycle state of a conversion job. Progression is forward
// only; CANCELLED may interrupt from any non-terminal state.
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusAnalyzing   Status = "ANALYZING"
	StatusExtracting  Status = "EXTRACTING"
	StatusStructuring Status = "STRUCTURING"
	StatusRendering   Status = "RENDERING"
	StatusScoring     Status = "SCORING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// progressByStatus is the canonical status -> progress lookup. Progress is
// never written independently of status, so external consumers can derive
// one from the other without drift.
var progressByStatus = map[Status]int{
	StatusQueued:      0,
	StatusAnalyzing:   10,
	StatusExtracting:  35,
	StatusStructuring: 60,
	StatusRendering:   80,
	StatusScoring:     90,
	StatusCompleted:   100,
}

// ProgressFor returns the canonical progress percentage for a status.
// FAILED and CANCELLED have no canonical value; they freeze the job's last
// progress, so callers must not use this for terminal-failure states.
func ProgressFor(s Status) (int, bool) {
	p, ok := progressByStatus[s]
	return p, ok
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatuses lists the statuses a guarded write must never overwrite.
func TerminalStatuses() []string {
	return []string{string(StatusCompleted), string(StatusFailed), string(StatusCancelled)}
}
