package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

var (
	// ErrMalformedPayload is returned when the payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock replaces the ingestion clock used for messages without a
// timestamp.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize decodes one webhook delivery and flattens it into events.
// Entries, changes and values are visited in payload order; within a value
// all messages come before all statuses so that a status for a message in
// the same delivery finds its record.
func (n *Normalizer) Normalize(raw []byte) ([]Event, Stats, error) {
	var stats Stats

	root, err := decode(raw)
	if err != nil {
		return nil, stats, err
	}

	entries := root.get("entry")
	if !entries.isList() {
		entries = root.get("metaData").get("entry")
	}

	events := make([]Event, 0)
	for _, entry := range entries.list() {
		stats.Entries++
		for _, change := range entry.get("changes").list() {
			value := change.get("value")
			events = n.appendMessages(events, value, &stats)
			events = n.appendStatuses(events, value, &stats)
		}
	}

	return events, stats, nil
}

func (n *Normalizer) appendMessages(events []Event, value node, stats *Stats) []Event {
	messages := value.get("messages").list()
	if len(messages) == 0 {
		return events
	}
	contacts := value.get("contacts").list()

	for i, msg := range messages {
		var contact node
		switch {
		case i < len(contacts) && contacts[i].exists():
			contact = contacts[i]
		case len(contacts) > 0:
			contact = contacts[0]
		default:
			stats.Skipped++
			logger.Warn("webhook: message without contact skipped",
				"message_id", msg.get("id").stringOr(""),
				"index", i)
			continue
		}

		record := &model.Message{
			ConversationID:    contact.get("wa_id").stringOr(""),
			DisplayName:       contact.get("profile").get("name").stringOr(model.DefaultDisplayName),
			SenderNumber:      msg.get("from").stringOr(""),
			Body:              msg.get("text").get("body").stringOr(model.DefaultBody),
			SentAt:            msg.get("timestamp").epochOr(n.now()),
			Status:            model.MessageStatusSent,
			ProviderMessageID: msg.get("id").stringOr(""),
			MetaMessageID:     msg.get("meta").get("meta_msg_id").stringOr(""),
		}
		stats.Messages++
		events = append(events, MessageReceived{Record: record})
	}
	return events
}

func (n *Normalizer) appendStatuses(events []Event, value node, stats *Stats) []Event {
	for _, st := range value.get("statuses").list() {
		stats.Statuses++
		events = append(events, StatusUpdated{
			ProviderMessageID: st.get("id").stringOr(""),
			MetaMessageID:     st.get("meta_msg_id").stringOr(""),
			Status:            model.MessageStatus(st.get("status").stringOr("")),
		})
	}
	return events
}

func decode(raw []byte) (node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return node{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return node{}, fmt.Errorf("%w: trailing data after document", ErrMalformedPayload)
	}
	if _, ok := v.(map[string]any); !ok {
		return node{}, fmt.Errorf("%w: root is not an object", ErrMalformedPayload)
	}
	return node{v: v}, nil
}

// Validate reports whether raw would be accepted by Normalize without
// building any events.
func Validate(raw []byte) error {
	_, err := decode(raw)
	return err
}
