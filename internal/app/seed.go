package app

import "github.com/lu-zhengda/aeromail/internal/domain"

// seedEpoch anchors the seed timestamps so every reset produces the same
// state. 2026-01-01T00:00:00Z in milliseconds.
const seedEpoch int64 = 1767225600000

const (
	hourMillis = 3600000
	dayMillis  = 24 * hourMillis
)

var seedUsers = []domain.User{
	{ID: "u1", Name: "Aero User", Email: "user@aeromail.dev"},
	{ID: "u2", Name: "Alex Rivera", Email: "alex@example.com"},
	{ID: "u3", Name: "Cloudflare Team", Email: "no-reply@cloudflare.com"},
}

var seedOwner = domain.Address{Name: "Aero User", Email: "user@aeromail.dev"}

var seedMessages = []domain.Message{
	{
		ID:        "e1",
		ThreadID:  "t1",
		From:      domain.Address{Name: "Cloudflare Team", Email: "no-reply@cloudflare.com"},
		To:        []domain.Address{seedOwner},
		Subject:   "Welcome to AeroMail",
		Snippet:   "Experience the next generation of email built on the edge.",
		Body:      "Hello!\n\nWelcome to AeroMail. This is a Progressive Web App powered by Cloudflare Workers and Durable Objects.\n\nEnjoy the speed!",
		Timestamp: seedEpoch - hourMillis,
		IsStarred: true,
		Folder:    domain.FolderInbox,
	},
	{
		ID:        "e2",
		ThreadID:  "t2",
		From:      domain.Address{Name: "Alex Rivera", Email: "alex@example.com"},
		To:        []domain.Address{seedOwner},
		Subject:   "Project Update: Phase 1 Complete",
		Snippet:   "The foundation of the Material Design 3 shell is now ready for review.",
		Body:      "Hey,\n\nI just finished the M3 shell implementation. Take a look at the navigation rail and bottom bar.\n\nBest,\nAlex",
		Timestamp: seedEpoch - 2*hourMillis,
		IsRead:    true,
		Folder:    domain.FolderInbox,
	},
	{
		ID:        "e3",
		ThreadID:  "t3",
		From:      domain.Address{Name: "Vercel", Email: "notifs@vercel.com"},
		To:        []domain.Address{seedOwner},
		Subject:   "Deployment Successful",
		Snippet:   "Your project aeromail-pwa has been deployed to production.",
		Body:      "Success! Your latest changes are live.",
		Timestamp: seedEpoch - dayMillis,
		IsRead:    true,
		Folder:    domain.FolderInbox,
	},
}

// Seed is the initial dataset written by Initialize and Reset.
type Seed struct {
	Users    []domain.User
	Messages []domain.Message
}

// DefaultSeed returns a copy of the built-in demo mailbox.
func DefaultSeed() Seed {
	s := Seed{
		Users:    append([]domain.User(nil), seedUsers...),
		Messages: make([]domain.Message, len(seedMessages)),
	}
	for i, m := range seedMessages {
		m.To = append([]domain.Address(nil), m.To...)
		s.Messages[i] = m
	}
	return s
}
