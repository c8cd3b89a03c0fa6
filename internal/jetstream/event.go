package jetstream

import (
	"encoding/json"
	"fmt"
)

// Operation values observed in commit events.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event kinds discriminated by the "kind" field of a Jetstream frame.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Event is a single decoded Jetstream frame.
//
// TimeUS is the feed position in microseconds. It is kept as the exact
// decimal string from the wire: the values exceed the safe integer range of
// a float64, so it must never pass through one.
type Event struct {
	Kind     string
	DID      string
	TimeUS   string
	Commit   *Commit
	Identity *Identity
	Account  *Account
}

// Commit describes a repository commit event: a single record operation
// within one account's repo.
type Commit struct {
	Rev        string
	Operation  string
	Collection string
	RKey       string
	CID        string

	// Record is the raw record payload, present only for create/update.
	Record json.RawMessage
}

// Identity is an identity-change event (handle updates and the like).
type Identity struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

// Account is an account-status event (activation, takedown, etc).
type Account struct {
	Active bool   `json:"active"`
	DID    string `json:"did"`
	Seq    int64  `json:"seq"`
	Status string `json:"status,omitempty"`
	Time   string `json:"time"`
}

// ParseEvent decodes one Jetstream frame. Frames with an unrecognized kind
// produce an error so the read loop can log and skip them.
func ParseEvent(data []byte) (*Event, error) {
	var raw struct {
		DID      string          `json:"did"`
		TimeUS   json.Number     `json:"time_us"`
		Kind     string          `json:"kind"`
		Commit   json.RawMessage `json:"commit,omitempty"`
		Identity *Identity       `json:"identity,omitempty"`
		Account  *Account        `json:"account,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &Event{
		DID:    raw.DID,
		TimeUS: raw.TimeUS.String(),
		Kind:   raw.Kind,
	}

	switch raw.Kind {
	case KindCommit:
		var rc struct {
			Rev        string          `json:"rev"`
			Operation  string          `json:"operation"`
			Collection string          `json:"collection"`
			RKey       string          `json:"rkey"`
			CID        string          `json:"cid"`
			Record     json.RawMessage `json:"record,omitempty"`
		}
		if err := json.Unmarshal(raw.Commit, &rc); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}
		event.Commit = &Commit{
			Rev:        rc.Rev,
			Operation:  rc.Operation,
			Collection: rc.Collection,
			RKey:       rc.RKey,
			CID:        rc.CID,
			Record:     rc.Record,
		}

	case KindIdentity:
		event.Identity = raw.Identity

	case KindAccount:
		event.Account = raw.Account

	default:
		return nil, fmt.Errorf("unknown event kind %q", raw.Kind)
	}

	return event, nil
}
