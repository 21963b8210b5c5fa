package domain

import "sort"

// Thread is the aggregate of every message sharing a thread ID. All fields
// except ID and Subject are derived from Messages by Recompute.
type Thread struct {
	ID               string    `json:"id"`
	LastMessageAt    int64     `json:"lastMessageAt"`
	Snippet          string    `json:"snippet"`
	Subject          string    `json:"subject"`
	Messages         []Message `json:"messages"`
	ParticipantNames []string  `json:"participantNames"`
	UnreadCount      int       `json:"unreadCount"`
	IsStarred        bool      `json:"isStarred"`
	Folder           Folder    `json:"folder"`
}

// Exists reports whether t was materialized from at least one message, as
// opposed to being a store's empty initial value.
func (t *Thread) Exists() bool {
	return t.ID != ""
}

// Upsert merges m into the member list, replacing a member with the same ID
// or appending it, and recomputes the derived fields. A thread without an ID
// takes its ID and subject from m.
func (t *Thread) Upsert(m Message) {
	if t.ID == "" {
		t.ID = m.ThreadID
		t.Subject = m.Subject
	}
	replaced := false
	for i := range t.Messages {
		if t.Messages[i].ID == m.ID {
			t.Messages[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		t.Messages = append(t.Messages, m)
	}
	t.Recompute()
}

// MarkAllRead flags every member as read.
func (t *Thread) MarkAllRead() {
	for i := range t.Messages {
		t.Messages[i].IsRead = true
	}
	t.Recompute()
}

// Recompute restores the aggregate invariants from Messages: members sorted
// by timestamp, unread count, star flag, latest timestamp and snippet,
// participant names and folder. The latest member is the last one after a
// stable sort, so among equal timestamps the most recently added wins.
func (t *Thread) Recompute() {
	if len(t.Messages) == 0 {
		return
	}
	sort.SliceStable(t.Messages, func(i, j int) bool {
		return t.Messages[i].Timestamp < t.Messages[j].Timestamp
	})

	t.UnreadCount = 0
	t.IsStarred = false
	seen := make(map[string]bool, len(t.ParticipantNames))
	for _, name := range t.ParticipantNames {
		seen[name] = true
	}
	for _, m := range t.Messages {
		if !m.IsRead {
			t.UnreadCount++
		}
		if m.IsStarred {
			t.IsStarred = true
		}
		if !seen[m.From.Name] {
			seen[m.From.Name] = true
			t.ParticipantNames = append(t.ParticipantNames, m.From.Name)
		}
	}

	latest := t.Messages[len(t.Messages)-1]
	t.LastMessageAt = latest.Timestamp
	t.Snippet = latest.Snippet
	t.Folder = latest.Folder
}

// Member returns the member message with the given ID.
func (t *Thread) Member(id string) (Message, bool) {
	for _, m := range t.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
