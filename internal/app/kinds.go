package app

import (
	"fmt"
	"strings"

	"github.com/lu-zhengda/aeromail/internal/domain"
	"github.com/lu-zhengda/aeromail/internal/store"
)

var messageKind = store.Kind[domain.Message]{
	Name: "message",
	Initial: func() domain.Message {
		return domain.Message{To: []domain.Address{}, Folder: domain.FolderInbox}
	},
	ID: func(m domain.Message) string { return m.ID },
}

var threadKind = store.Kind[domain.Thread]{
	Name: "thread",
	Initial: func() domain.Thread {
		return domain.Thread{
			Messages:         []domain.Message{},
			ParticipantNames: []string{},
			Folder:           domain.FolderInbox,
		}
	},
	ID: func(t domain.Thread) string { return t.ID },
}

var userKind = store.Kind[domain.User]{
	Name:    "user",
	Initial: func() domain.User { return domain.User{} },
	ID:      func(u domain.User) string { return u.ID },
}

// folderIndex names the ordered index holding f's messages.
func folderIndex(f domain.Folder) string {
	return "folder:" + string(f)
}

// sortKey orders index entries by timestamp, then message ID. The timestamp is
// zero-padded so lexical order matches numeric order. Adds and removes must
// both go through this function.
func sortKey(m domain.Message) string {
	return fmt.Sprintf("%015d:%s", m.Timestamp, m.ID)
}

// messageIDFromKey extracts the message ID from a sort key. IDs may contain
// the separator; the timestamp never does.
func messageIDFromKey(key string) (string, bool) {
	_, id, ok := strings.Cut(key, ":")
	return id, ok && id != ""
}
