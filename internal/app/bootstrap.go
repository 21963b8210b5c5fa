package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lu-zhengda/aeromail/internal/domain"
	"github.com/lu-zhengda/aeromail/internal/logging"
)

// replayPageSize is the page size used when walking every stored record.
const replayPageSize = 100

// Bootstrap seeds an empty mailbox and rebuilds derived state from stored
// messages.
type Bootstrap struct {
	mailbox *Mailbox
	seed    Seed
	log     zerolog.Logger
}

// NewBootstrap creates a Bootstrap that seeds mb with seed.
func NewBootstrap(mb *Mailbox, seed Seed, log zerolog.Logger) *Bootstrap {
	return &Bootstrap{mailbox: mb, seed: seed, log: logging.Component(log, "bootstrap")}
}

// Initialize seeds users and messages when their stores are empty, then
// replays every stored message through the mailbox so threads and folder
// indexes are derived from messages alone. It is safe to call on every start.
func (b *Bootstrap) Initialize(ctx context.Context) (err error) {
	ctx, span := b.mailbox.startSpan(ctx, "Initialize")
	defer func() { endSpan(span, err) }()

	seededUsers, err := b.mailbox.users.EnsureSeed(ctx, b.seed.Users)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	seededMessages, err := b.mailbox.messages.EnsureSeed(ctx, b.seed.Messages)
	if err != nil {
		return fmt.Errorf("failed to seed messages: %w", err)
	}

	msgs, err := b.mailbox.messages.All(ctx, replayPageSize)
	if err != nil {
		return fmt.Errorf("failed to list messages for replay: %w", err)
	}
	for _, msg := range msgs {
		if _, err := b.mailbox.ProcessNewMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to replay message %s: %w", msg.ID, err)
		}
	}

	b.log.Info().
		Bool("seededUsers", seededUsers).
		Bool("seededMessages", seededMessages).
		Int("replayed", len(msgs)).
		Msg("mailbox initialized")
	return nil
}

// Reset deletes every message, thread and user, clears every folder index and
// initializes again. Repeated resets leave identical state.
func (b *Bootstrap) Reset(ctx context.Context) (err error) {
	ctx, span := b.mailbox.startSpan(ctx, "Reset")
	defer func() { endSpan(span, err) }()

	mb := b.mailbox
	msgs, err := mb.messages.Keys(ctx, replayPageSize)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	threads, err := mb.threads.Keys(ctx, replayPageSize)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	users, err := mb.users.Keys(ctx, replayPageSize)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if err := mb.messages.DeleteMany(ctx, msgs); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := mb.threads.DeleteMany(ctx, threads); err != nil {
		return fmt.Errorf("failed to delete threads: %w", err)
	}
	if err := mb.users.DeleteMany(ctx, users); err != nil {
		return fmt.Errorf("failed to delete users: %w", err)
	}
	for _, f := range domain.Folders {
		if err := mb.index(f).Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear %s index: %w", f, err)
		}
	}

	b.log.Info().
		Int("messages", len(msgs)).
		Int("threads", len(threads)).
		Int("users", len(users)).
		Msg("mailbox cleared")
	return b.Initialize(ctx)
}
