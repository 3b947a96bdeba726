package realtime

import (
	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
)

const (
	EventMessageInserted = "message.inserted"
	EventMessageStatus   = "message.status"
)

// Event is the JSON frame pushed to websocket clients.
type Event struct {
	Type      string              `json:"type"`
	Record    *model.Message      `json:"record,omitempty"`
	ID        int64               `json:"id,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	MetaMsgID string              `json:"meta_msg_id,omitempty"`
	Status    model.MessageStatus `json:"status,omitempty"`
}

// FromOutcome maps a reconciler outcome to a client event. NoMatch and
// Ignored outcomes change nothing visible and yield false.
func FromOutcome(o reconciler.Outcome) (Event, bool) {
	switch o.Kind {
	case reconciler.OutcomeInserted:
		if o.Record == nil {
			return Event{}, false
		}
		return Event{Type: EventMessageInserted, Record: o.Record}, true
	case reconciler.OutcomeUpdated:
		return Event{
			Type:      EventMessageStatus,
			ID:        o.MatchedID,
			MessageID: o.ProviderMessageID,
			MetaMsgID: o.MetaMessageID,
			Status:    o.Status,
		}, true
	}
	return Event{}, false
}
