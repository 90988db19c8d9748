package model

type RunState string

const (
	RunRunning   RunState = "running"
	RunComplete  RunState = "complete"
	RunCancelled RunState = "cancelled"
)

type Failure struct {
	CandidateName string `json:"candidateName"`
	Error         string `json:"error"`
}

// Progress is a point-in-time view of an active or finished batch.
type Progress struct {
	RunID    string    `json:"runId"`
	State    RunState  `json:"state"`
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Current  string    `json:"current,omitempty"`
	Label    string    `json:"label,omitempty"`
	Sent     int       `json:"sent"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`

	// WaitingSeconds and Break describe the pacing countdown in progress, if any.
	WaitingSeconds int  `json:"waitingSeconds,omitempty"`
	Break          bool `json:"break,omitempty"`
}

func (p Progress) Clone() Progress {
	p.Failures = append([]Failure(nil), p.Failures...)
	return p
}
