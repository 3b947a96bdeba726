package fixtures

import (
	"encoding/json"
	"strconv"
)

// Contact is one sender profile of a provider payload.
type Contact struct {
	WaID string
	Name string
}

// InboundMessage is one entry of a payload's messages list.
type InboundMessage struct {
	ID        string
	From      string
	Body      string
	Timestamp int64
}

type Status struct {
	ID        string
	MetaMsgID string
	Status    string
}

// Payload builds a provider webhook body with a single change value.
func Payload(messages []InboundMessage, contacts []Contact, statuses []Status) []byte {
	value := map[string]interface{}{}

	if len(messages) > 0 {
		list := make([]map[string]interface{}, 0, len(messages))
		for _, m := range messages {
			entry := map[string]interface{}{
				"id":   m.ID,
				"from": m.From,
				"type": "text",
				"text": map[string]string{"body": m.Body},
			}
			if m.Timestamp > 0 {
				entry["timestamp"] = strconv.FormatInt(m.Timestamp, 10)
			}
			list = append(list, entry)
		}
		value["messages"] = list
	}

	if len(contacts) > 0 {
		list := make([]map[string]interface{}, 0, len(contacts))
		for _, c := range contacts {
			list = append(list, map[string]interface{}{
				"wa_id":   c.WaID,
				"profile": map[string]string{"name": c.Name},
			})
		}
		value["contacts"] = list
	}

	if len(statuses) > 0 {
		list := make([]map[string]interface{}, 0, len(statuses))
		for _, s := range statuses {
			entry := map[string]interface{}{"status": s.Status}
			if s.ID != "" {
				entry["id"] = s.ID
			}
			if s.MetaMsgID != "" {
				entry["meta_msg_id"] = s.MetaMsgID
			}
			list = append(list, entry)
		}
		value["statuses"] = list
	}

	raw, _ := json.Marshal(map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []interface{}{
			map[string]interface{}{
				"id":      "entry-1",
				"changes": []interface{}{map[string]interface{}{"field": "messages", "value": value}},
			},
		},
	})
	return raw
}

// Wrapped nests a payload under metaData, the shape of exported sample files.
func Wrapped(payload []byte) []byte {
	raw, _ := json.Marshal(map[string]json.RawMessage{
		"payload_type": json.RawMessage(`"whatsapp_webhook"`),
		"metaData":     payload,
	})
	return raw
}

func MessagePayload(id, waID, name, body string, ts int64) []byte {
	return Payload(
		[]InboundMessage{{ID: id, From: waID, Body: body, Timestamp: ts}},
		[]Contact{{WaID: waID, Name: name}},
		nil,
	)
}

func StatusPayload(id, status string) []byte {
	return Payload(nil, nil, []Status{{ID: id, Status: status}})
}

var MalformedPayloads = [][]byte{
	[]byte(`not json`),
	[]byte(`[1,2,3]`),
	[]byte(`"string"`),
	[]byte(``),
}
