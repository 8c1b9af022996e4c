package msgbus

import (
	"time"

	"github.com/google/uuid"
)

// Broadcast is the sentinel recipient that fans a message out to every
// known role's inbox except the sender's.
const Broadcast = "broadcast"

type MessageType string

const (
	TypeTask     MessageType = "task"
	TypeResult   MessageType = "result"
	TypeQuestion MessageType = "question"
	TypeFeedback MessageType = "feedback"
	TypeStatus   MessageType = "status"
	TypeFinding  MessageType = "finding"
	TypeArtifact MessageType = "artifact"
	TypeReview   MessageType = "review"
	TypeDesign   MessageType = "design"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

type Verdict string

const (
	VerdictApproved      Verdict = "APPROVED"
	VerdictNeedsRevision Verdict = "NEEDS_REVISION"
	VerdictRejected      Verdict = "REJECTED"
)

// TaskPayload is the well-known payload for task messages.
type TaskPayload struct {
	Step     string `json:"step"`
	Revision int    `json:"revision,omitempty"`
}

// ReviewPayload is the well-known payload for review and feedback messages.
type ReviewPayload struct {
	Step    string  `json:"step"`
	Verdict Verdict `json:"verdict"`
}

// Content carries the message body plus a typed payload keyed by the
// message type, with Extra as a scalar escape hatch.
type Content struct {
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Artifacts []string          `json:"artifacts,omitempty"`
	Task      *TaskPayload      `json:"task,omitempty"`
	Review    *ReviewPayload    `json:"review,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Message is immutable once created; queues append or remove whole
// messages, never mutate fields in place.
type Message struct {
	ID               string      `json:"id"`
	Timestamp        time.Time   `json:"timestamp"`
	From             string      `json:"from"`
	To               string      `json:"to"`
	Type             MessageType `json:"type"`
	Priority         Priority    `json:"priority"`
	Content          Content     `json:"content"`
	ThreadID         string      `json:"thread_id,omitempty"`
	RequiresResponse bool        `json:"requires_response,omitempty"`
	Deadline         *time.Time  `json:"deadline,omitempty"`
}

func newMessage(from, to string, typ MessageType, pri Priority, content Content, opts SendOpts) *Message {
	if pri == "" {
		pri = PriorityNormal
	}
	return &Message{
		ID:               uuid.New().String(),
		Timestamp:        time.Now(),
		From:             from,
		To:               to,
		Type:             typ,
		Priority:         pri,
		Content:          content,
		ThreadID:         opts.ThreadID,
		RequiresResponse: opts.RequiresResponse,
		Deadline:         opts.Deadline,
	}
}

// Verdict returns the review verdict carried by the message, if any.
func (m *Message) ReviewVerdict() (Verdict, bool) {
	if m.Content.Review == nil {
		return "", false
	}
	return m.Content.Review.Verdict, true
}

// valid reports whether a decoded entry is structurally usable.
func (m *Message) valid() bool {
	return m.ID != "" && m.From != "" && m.To != "" && m.Type != ""
}
