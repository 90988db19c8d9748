package model

import "time"

// SyncResult summarises one reconciliation pass. It is shown to the
// operator and never persisted.
type SyncResult struct {
	At            time.Time `json:"at"`
	Forced        bool      `json:"forced"`
	Checked       int       `json:"checked"`
	TrackersFound int       `json:"trackersFound"`
	Updated       int       `json:"updated"`
	Untracked     int       `json:"untracked"`
	Warning       string    `json:"warning,omitempty"`
}

// TrackerStatus is the backend's view of one provider id.
type TrackerStatus struct {
	ProviderID  string     `json:"providerId"`
	Status      string     `json:"status"`
	TrackerID   string     `json:"trackerId,omitempty"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	PitchSentAt *time.Time `json:"pitchSentAt,omitempty"`
}

// TrackRequest registers a successful send with the tracker service.
type TrackRequest struct {
	CandidateID    string      `json:"candidateId"`
	ProviderID     string      `json:"providerId"`
	MessageType    MessageType `json:"messageType"`
	JobID          string      `json:"jobId,omitempty"`
	AssessmentLink string      `json:"assessmentLink,omitempty"`
	Message        string      `json:"message,omitempty"`
	SentAt         time.Time   `json:"sentAt"`
}
