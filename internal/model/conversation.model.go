package model

import (
	"sort"
	"time"
)

// Conversation is a read projection over the messages sharing a wa_id.
// It is never stored.
type Conversation struct {
	ConversationID string    `json:"_id"`
	Name           string    `json:"name"`
	Number         string    `json:"number"`
	LastMessage    string    `json:"lastMessage"`
	LastTimestamp  time.Time `json:"lastTimestamp"`
	UnreadCount    int       `json:"unreadCount"`
}

// BuildConversations groups messages by conversation and summarizes each
// group by its most recent message. UnreadCount counts messages still in the
// sent state, regardless of direction.
func BuildConversations(messages []*Message) []*Conversation {
	latest := make(map[string]*Message)
	unread := make(map[string]int)
	order := make([]string, 0)

	for _, m := range messages {
		if m == nil {
			continue
		}
		cur, ok := latest[m.ConversationID]
		if !ok {
			order = append(order, m.ConversationID)
			latest[m.ConversationID] = m
		} else if m.SentAt.After(cur.SentAt) || (m.SentAt.Equal(cur.SentAt) && m.ID > cur.ID) {
			latest[m.ConversationID] = m
		}
		if m.Status == MessageStatusSent {
			unread[m.ConversationID]++
		}
	}

	out := make([]*Conversation, 0, len(order))
	for _, id := range order {
		m := latest[id]
		out = append(out, &Conversation{
			ConversationID: id,
			Name:           m.DisplayName,
			Number:         m.SenderNumber,
			LastMessage:    m.Body,
			LastTimestamp:  m.SentAt,
			UnreadCount:    unread[id],
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastTimestamp.Equal(out[j].LastTimestamp) {
			return out[i].LastTimestamp.After(out[j].LastTimestamp)
		}
		return out[i].ConversationID < out[j].ConversationID
	})

	return out
}
