package main

import (
	"encoding/json"
	"strconv"
	"time"
)

type textBody struct {
	Body string `json:"body"`
}

type inboundMessage struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      textBody `json:"text"`
}

type profile struct {
	Name string `json:"name"`
}

type contact struct {
	WaID    string  `json:"wa_id"`
	Profile profile `json:"profile"`
}

type statusUpdate struct {
	ID          string `json:"id"`
	MetaMsgID   string `json:"meta_msg_id,omitempty"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id,omitempty"`
}

type changeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []contact        `json:"contacts,omitempty"`
	Messages         []inboundMessage `json:"messages,omitempty"`
	Statuses         []statusUpdate   `json:"statuses,omitempty"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

func wrap(accountID string, v changeValue) ([]byte, error) {
	v.MessagingProduct = "whatsapp"
	return json.Marshal(envelope{
		Object: "whatsapp_business_account",
		Entry:  []entry{{ID: accountID, Changes: []change{{Field: "messages", Value: v}}}},
	})
}

func epoch(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func messagePayload(accountID, id, from, name, body string, at time.Time) ([]byte, error) {
	return wrap(accountID, changeValue{
		Contacts: []contact{{WaID: from, Profile: profile{Name: name}}},
		Messages: []inboundMessage{{ID: id, From: from, Timestamp: epoch(at), Type: "text", Text: textBody{Body: body}}},
	})
}

func statusPayload(accountID, id, metaMsgID, status, recipient string, at time.Time) ([]byte, error) {
	return wrap(accountID, changeValue{
		Statuses: []statusUpdate{{ID: id, MetaMsgID: metaMsgID, Status: status, Timestamp: epoch(at), RecipientID: recipient}},
	})
}
