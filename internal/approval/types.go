package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrConnectionRejected is logged for connections that are not from
	// loopback or do not present the current key. It is never sent to the peer.
	ErrConnectionRejected = errors.New("connection rejected")

	// ErrAlreadyDecided is returned by Decide when re-deciding is disabled and
	// the message already has a terminal status.
	ErrAlreadyDecided = errors.New("message already decided")

	// ErrInvalidStatus is returned by Decide for anything but approved or rejected.
	ErrInvalidStatus = errors.New("decision status must be approved or rejected")
)

// Status is the state of an approval message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status is a decision.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// NoBody replaces the original body in decision broadcasts unless the
// message was approved and had a body.
const NoBody = "no body"

// Timestamp is epoch milliseconds. It also accepts RFC 3339 strings on input.
type Timestamp int64

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*t = Timestamp(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*t = TimestampOf(parsed)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*t = Timestamp(int64(f))
	return nil
}

// Message is a request for a human decision.
type Message struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Body             string    `json:"body,omitempty"`
	Explanation      string    `json:"explanation,omitempty"`
	Code             string    `json:"code,omitempty"`
	RiskLevel        string    `json:"riskLevel,omitempty"`
	Status           Status    `json:"status"`
	Feedback         string    `json:"feedback,omitempty"`
	RequiresResponse bool      `json:"requiresResponse"`
	Timestamp        Timestamp `json:"timestamp"`
	Sender           string    `json:"sender,omitempty"`
}

// OriginalMessage is the excerpt of the decided message sent with a decision.
type OriginalMessage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Decision is broadcast to every connected client when a message that
// requires a response is decided.
type Decision struct {
	ID              string          `json:"id"`
	Status          Status          `json:"status"`
	Feedback        string          `json:"feedback"`
	Timestamp       Timestamp       `json:"timestamp"`
	OriginalMessage OriginalMessage `json:"originalMessage"`
}

// newDecision builds the broadcast payload. The body is only revealed for
// approved messages that had one.
func newDecision(msg Message, at Timestamp) Decision {
	body := NoBody
	if msg.Status == StatusApproved && msg.Body != "" {
		body = msg.Body
	}
	return Decision{
		ID:        msg.ID,
		Status:    msg.Status,
		Feedback:  msg.Feedback,
		Timestamp: at,
		OriginalMessage: OriginalMessage{
			ID:    msg.ID,
			Title: msg.Title,
			Body:  body,
		},
	}
}

// Wire frames other than messages and decisions.
const (
	TypeRequestToken    = "request-token"
	TypeAuthToken       = "auth-token"
	TypeMessageReceived = "message-received"
)

type inboundEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

// AuthTokenResponse answers a request-token frame.
type AuthTokenResponse struct {
	Type          string  `json:"type"`
	Token         *string `json:"token"`
	Authenticated bool    `json:"authenticated"`
	User          any     `json:"user"`
	RequestID     string  `json:"requestId,omitempty"`
}

// Ack is sent to the submitter of a message.
type Ack struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
