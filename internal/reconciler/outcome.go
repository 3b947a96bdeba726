package reconciler

import (
	"context"

	"github.com/nimasrn/webhook-inbox/internal/model"
)

type OutcomeKind string

const (
	OutcomeInserted OutcomeKind = "inserted"
	OutcomeUpdated  OutcomeKind = "updated"
	OutcomeNoMatch  OutcomeKind = "no_match"
	// OutcomeIgnored marks a status event carrying no status. The store is
	// not consulted, so whether a record matches is unknown.
	OutcomeIgnored OutcomeKind = "ignored"
)

// Outcome reports what applying one event did to the store. Record is set
// for inserts, MatchedID for updates; the identifiers and Status echo the
// status event that produced an update or a no-match.
type Outcome struct {
	Kind              OutcomeKind         `json:"kind"`
	Record            *model.Message      `json:"record,omitempty"`
	MatchedID         int64               `json:"matched_id,omitempty"`
	ProviderMessageID string              `json:"message_id,omitempty"`
	MetaMessageID     string              `json:"meta_msg_id,omitempty"`
	Status            model.MessageStatus `json:"status,omitempty"`
}

func Inserted(record *model.Message) Outcome {
	return Outcome{Kind: OutcomeInserted, Record: record}
}

// Summary counts outcomes by kind.
type Summary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	NoMatch  int `json:"no_match"`
	Ignored  int `json:"ignored"`
}

func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeInserted:
			s.Inserted++
		case OutcomeUpdated:
			s.Updated++
		case OutcomeNoMatch:
			s.NoMatch++
		case OutcomeIgnored:
			s.Ignored++
		}
	}
	return s
}

// MessageStore is the record store the reconciler mutates.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) (*model.Message, error)
	// UpdateStatusFirstMatch sets status on the first record whose
	// message_id equals providerID or whose meta_msg_id equals metaID. An
	// empty identifier takes no part in the match. It returns the surrogate
	// id of the updated record and whether one was found.
	UpdateStatusFirstMatch(ctx context.Context, providerID, metaID string, status model.MessageStatus) (int64, bool, error)
}

// Notifier receives every outcome after it has been applied.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome)
}

type NotifierFunc func(ctx context.Context, outcome Outcome)

func (f NotifierFunc) Notify(ctx context.Context, outcome Outcome) {
	f(ctx, outcome)
}
