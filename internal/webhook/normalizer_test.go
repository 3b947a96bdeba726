package webhook

import (
	"testing"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer().WithClock(func() time.Time { return fixedNow })
}

func TestNormalizer_Normalize_Message(t *testing.T) {
	payload := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{"id": "m1", "from": "123", "text": {"body": "hi"}, "timestamp": "1700000000"}],
					"contacts": [{"wa_id": "c1", "profile": {"name": "Alice"}}]
				}
			}]
		}]
	}`)

	events, stats, err := newTestNormalizer().Normalize(payload)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 0, stats.Skipped)

	ev, ok := events[0].(MessageReceived)
	require.True(t, ok)
	rec := ev.Record
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, "Alice", rec.DisplayName)
	assert.Equal(t, "123", rec.SenderNumber)
	assert.Equal(t, "hi", rec.Body)
	assert.Equal(t, model.MessageStatusSent, rec.Status)
	assert.Equal(t, "m1", rec.ProviderMessageID)
	assert.Equal(t, "", rec.MetaMessageID)
	assert.True(t, rec.SentAt.Equal(time.Unix(1700000000, 0)))
}

func TestNormalizer_Normalize_Defaults(t *testing.T) {
	t.Run("missing optional fields resolve to defaults", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"type":"image"}],
			"contacts":[{"wa_id":"c9"}]
		}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		require.Len(t, events, 1)

		rec := events[0].(MessageReceived).Record
		assert.Equal(t, model.DefaultDisplayName, rec.DisplayName)
		assert.Equal(t, model.DefaultBody, rec.Body)
		assert.Equal(t, "", rec.ProviderMessageID)
		assert.Equal(t, "", rec.SenderNumber)
		assert.True(t, rec.SentAt.Equal(fixedNow))
	})

	t.Run("numeric timestamp is accepted", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"m2","timestamp":1700000001}],
			"contacts":[{"wa_id":"c1"}]
		}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		rec := events[0].(MessageReceived).Record
		assert.True(t, rec.SentAt.Equal(time.Unix(1700000001, 0)))
	})

	t.Run("non numeric timestamp falls back to ingestion time", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"m3","timestamp":"yesterday"}],
			"contacts":[{"wa_id":"c1"}]
		}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.True(t, events[0].(MessageReceived).Record.SentAt.Equal(fixedNow))
	})

	t.Run("out of range timestamps fall back to ingestion time", func(t *testing.T) {
		for _, ts := range []string{`"1e20"`, `99999999999999999`, `-1e19`, `"253402300800"`, `"-62135596801"`} {
			payload := []byte(`{"entry":[{"changes":[{"value":{
				"messages":[{"id":"m5","timestamp":` + ts + `}],
				"contacts":[{"wa_id":"c1"}]
			}}]}]}`)

			events, _, err := newTestNormalizer().Normalize(payload)
			require.NoError(t, err, ts)
			require.Len(t, events, 1, ts)
			assert.True(t, events[0].(MessageReceived).Record.SentAt.Equal(fixedNow), ts)
		}
	})

	t.Run("timestamps at the range edges are kept", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"m6","timestamp":"253402300799"}],
			"contacts":[{"wa_id":"c1"}]
		}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Equal(t, 9999, events[0].(MessageReceived).Record.SentAt.UTC().Year())
	})

	t.Run("meta message id is read from nested meta", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"m4","meta":{"meta_msg_id":"meta-4"}}],
			"contacts":[{"wa_id":"c1"}]
		}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Equal(t, "meta-4", events[0].(MessageReceived).Record.MetaMessageID)
	})
}

func TestNormalizer_Normalize_ContactPairing(t *testing.T) {
	t.Run("contacts are paired by position with fallback to the first", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"a"},{"id":"b"},{"id":"c"}],
			"contacts":[{"wa_id":"first"},{"wa_id":"second"}]
		}}]}]}`)

		events, stats, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, 3, stats.Messages)
		assert.Equal(t, "first", events[0].(MessageReceived).Record.ConversationID)
		assert.Equal(t, "second", events[1].(MessageReceived).Record.ConversationID)
		assert.Equal(t, "first", events[2].(MessageReceived).Record.ConversationID)
	})

	t.Run("empty contacts drops the messages", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{
			"messages":[{"id":"a","text":{"body":"x"}}],
			"contacts":[]
		}}]}]}`)

		events, stats, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Len(t, events, 0)
		assert.Equal(t, 1, stats.Skipped)
	})

	t.Run("missing contacts drops the messages", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"id":"a"}]}}]}]}`)

		events, stats, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Len(t, events, 0)
		assert.Equal(t, 1, stats.Skipped)
	})
}

func TestNormalizer_Normalize_Statuses(t *testing.T) {
	payload := []byte(`{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"m1","status":"delivered"},{"meta_msg_id":"meta-2","status":"read"}]
	}}]}]}`)

	events, stats, err := newTestNormalizer().Normalize(payload)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, stats.Statuses)

	assert.Equal(t, StatusUpdated{ProviderMessageID: "m1", Status: model.MessageStatusDelivered}, events[0])
	assert.Equal(t, StatusUpdated{MetaMessageID: "meta-2", Status: model.MessageStatusRead}, events[1])
}

func TestNormalizer_Normalize_Ordering(t *testing.T) {
	// statuses are listed first in the value but must come after messages
	payload := []byte(`{"entry":[
		{"changes":[
			{"value":{"statuses":[{"id":"m1","status":"read"}],"messages":[{"id":"m1"}],"contacts":[{"wa_id":"c1"}]}},
			{"value":{"messages":[{"id":"m2"}],"contacts":[{"wa_id":"c2"}]}}
		]},
		{"changes":[{"value":{"statuses":[{"id":"m2","status":"delivered"}]}}]}
	]}`)

	events, stats, err := newTestNormalizer().Normalize(payload)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, 2, stats.Entries)

	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name()
	}
	assert.Equal(t, []string{"message_received", "status_updated", "message_received", "status_updated"}, names)
	assert.Equal(t, "m1", events[0].(MessageReceived).Record.ProviderMessageID)
	assert.Equal(t, "m2", events[3].(StatusUpdated).ProviderMessageID)
}

func TestNormalizer_Normalize_Envelope(t *testing.T) {
	t.Run("metaData envelope is accepted", func(t *testing.T) {
		payload := []byte(`{"payload_type":"whatsapp_webhook","metaData":{"entry":[{"changes":[{"value":{
			"statuses":[{"id":"m1","status":"sent"}]
		}}]}]}}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("payload without entries yields nothing", func(t *testing.T) {
		events, stats, err := newTestNormalizer().Normalize([]byte(`{"object":"whatsapp_business_account"}`))
		require.NoError(t, err)
		assert.Len(t, events, 0)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("wrongly typed branches are treated as absent", func(t *testing.T) {
		payload := []byte(`{"entry":[{"changes":"nope"},{"changes":[{"value":{"messages":{"id":"x"}}}]}]}`)

		events, _, err := newTestNormalizer().Normalize(payload)
		require.NoError(t, err)
		assert.Len(t, events, 0)
	})
}

func TestNormalizer_Normalize_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"entry": [`,
		"array root":    `[{"entry": []}]`,
		"scalar root":   `"hello"`,
		"trailing data": `{"entry": []} {}`,
		"empty":         ``,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			events, _, err := newTestNormalizer().Normalize([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.Nil(t, events)
		})
	}
}
