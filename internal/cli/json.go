package cli

import (
	"time"

	"github.com/lu-zhengda/aeromail/internal/domain"
)

// ---------------------------------------------------------------------------
// Thread summary JSON type (list)
// ---------------------------------------------------------------------------

type jsonThread struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
	LastDate     string   `json:"last_date"`
	MessageCount int      `json:"message_count"`
	UnreadCount  int      `json:"unread_count"`
	Starred      bool     `json:"starred"`
	Folder       string   `json:"folder"`
	Snippet      string   `json:"snippet,omitempty"`
}

func toJSONThreads(threads []domain.Thread) []jsonThread {
	out := make([]jsonThread, 0, len(threads))
	for _, t := range threads {
		participants := t.ParticipantNames
		if participants == nil {
			participants = []string{}
		}
		out = append(out, jsonThread{
			ID:           t.ID,
			Subject:      t.Subject,
			Participants: participants,
			LastDate:     time.UnixMilli(t.LastMessageAt).UTC().Format(time.RFC3339),
			MessageCount: len(t.Messages),
			UnreadCount:  t.UnreadCount,
			Starred:      t.IsStarred,
			Folder:       string(t.Folder),
			Snippet:      t.Snippet,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Action JSON type (init, reset)
// ---------------------------------------------------------------------------

type jsonAction struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
}
