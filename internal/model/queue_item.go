package model

import "time"

type MessageType string

const (
	ConnectionRequest MessageType = "connection_request"
	ConnectionOnly    MessageType = "connection_only"
	InMail            MessageType = "inmail"
	DirectMessage     MessageType = "message"
)

type Flow string

const (
	FlowConnection Flow = "connection"
	FlowDirect     Flow = "direct"
)

// Kind is the outreach kind a daily allowance is counted against.
type Kind string

const (
	KindConnection Kind = "connection"
	KindInMail     Kind = "inmail"
	KindMessage    Kind = "message"
)

var Kinds = []Kind{KindConnection, KindInMail, KindMessage}

func (t MessageType) Valid() bool {
	switch t {
	case ConnectionRequest, ConnectionOnly, InMail, DirectMessage:
		return true
	}
	return false
}

func (t MessageType) Flow() Flow {
	if t == InMail || t == DirectMessage {
		return FlowDirect
	}
	return FlowConnection
}

func (t MessageType) Kind() Kind {
	switch t {
	case InMail:
		return KindInMail
	case DirectMessage:
		return KindMessage
	default:
		return KindConnection
	}
}

type Status string

const (
	Pending            Status = "pending"
	Sent               Status = "sent"
	ConnectionAccepted Status = "connection_accepted"
	PitchPending       Status = "pitch_pending"
	PitchSent          Status = "pitch_sent"
	Replied            Status = "replied"
	Failed             Status = "failed"
)

type QueueItem struct {
	ID             string      `json:"id"`
	CandidateID    string      `json:"candidateId"`
	CandidateName  string      `json:"candidateName,omitempty"`
	ProviderID     string      `json:"providerId,omitempty"`
	MessageType    MessageType `json:"messageType"`
	Status         Status      `json:"status"`
	MessageDraft   string      `json:"messageDraft,omitempty"`
	JobID          string      `json:"jobId,omitempty"`
	AssessmentLink string      `json:"assessmentLink,omitempty"`
	TrackerID      string      `json:"trackerId,omitempty"`
	SentAt         *time.Time  `json:"sentAt,omitempty"`
	AcceptedAt     *time.Time  `json:"acceptedAt,omitempty"`
	PitchSentAt    *time.Time  `json:"pitchSentAt,omitempty"`
	ErrorMessage   string      `json:"errorMessage,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// CanSend reports whether the item has the provider id a send is keyed by.
func (i QueueItem) CanSend() bool {
	return i.ProviderID != ""
}

// DisplayName falls back to the candidate id when no name was captured.
func (i QueueItem) DisplayName() string {
	if i.CandidateName != "" {
		return i.CandidateName
	}
	return i.CandidateID
}
