package app

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lu-zhengda/aeromail/internal/config"
	"github.com/lu-zhengda/aeromail/internal/domain"
	"github.com/lu-zhengda/aeromail/internal/logging"
	"github.com/lu-zhengda/aeromail/internal/store"
)

const tracerName = "github.com/lu-zhengda/aeromail/internal/app"

// resolveWorkers bounds concurrent store reads while listing a folder.
const resolveWorkers = 8

// Options tunes a Mailbox.
type Options struct {
	// ScanLimit is how many of the newest index entries a listing reads.
	ScanLimit    int
	DefaultLimit int
	MaxLimit     int

	// Identity sends outgoing mail and receives simulated mail.
	Identity         domain.Address
	Simulator        domain.Address
	SimulatorSubject string

	// TracerProvider receives a span per workflow. Nil means the global
	// provider.
	TracerProvider trace.TracerProvider
}

// OptionsFromConfig maps the mailbox-related config sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScanLimit:        cfg.Mailbox.ScanLimit,
		DefaultLimit:     cfg.Mailbox.DefaultLimit,
		MaxLimit:         cfg.Mailbox.MaxLimit,
		Identity:         domain.Address{Name: cfg.Identity.Name, Email: cfg.Identity.Email},
		Simulator:        domain.Address{Name: cfg.Simulator.Name, Email: cfg.Simulator.Email},
		SimulatorSubject: cfg.Simulator.Subject,
	}
}

// DefaultOptions returns Options built from the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// Mailbox keeps messages, their thread aggregates and the folder indexes in
// step. Every workflow is a sequence of single-record writes; a failure part
// way leaves state that replaying the same workflow repairs.
type Mailbox struct {
	backend  store.Backend
	messages *store.Entities[domain.Message]
	threads  *store.Entities[domain.Thread]
	users    *store.Entities[domain.User]
	opts     Options
	log      zerolog.Logger
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string
}

// NewMailbox creates a Mailbox over b.
func NewMailbox(b store.Backend, opts Options, log zerolog.Logger) *Mailbox {
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Mailbox{
		backend:  b,
		messages: store.NewEntities(b, messageKind),
		threads:  store.NewEntities(b, threadKind),
		users:    store.NewEntities(b, userKind),
		opts:     opts,
		log:      logging.Component(log, "mailbox"),
		tracer:   tp.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// MessageView is a message together with its owning thread.
type MessageView struct {
	domain.Message
	Thread domain.Thread `json:"thread"`
}

// SendRequest is an outgoing message composed by the user.
type SendRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"threadId,omitempty"`
}

func (m *Mailbox) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "Mailbox."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (m *Mailbox) index(f domain.Folder) store.Index {
	return m.backend.Index(folderIndex(f))
}

// ProcessNewMessage stores msg, files it in its folder indexes and merges it
// into its thread. Ingesting the same message again converges to the same
// state.
func (m *Mailbox) ProcessNewMessage(ctx context.Context, msg domain.Message) (_ domain.Message, err error) {
	ctx, span := m.startSpan(ctx, "ProcessNewMessage",
		attribute.String("message.id", msg.ID),
		attribute.String("thread.id", msg.ThreadID))
	defer func() { endSpan(span, err) }()

	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	if msg.To == nil {
		msg.To = []domain.Address{}
	}
	if msg.Snippet == "" {
		msg.Snippet = domain.Snippet(msg.Body, domain.SnippetLength)
	}

	prev, err := m.messages.Get(ctx, msg.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to read message %s: %w", msg.ID, err)
	}
	// A message never changes thread: the old aggregate would keep it as a
	// member.
	if prev.ID != "" && prev.ThreadID != msg.ThreadID {
		return domain.Message{}, &domain.ValidationError{
			Field:  "threadId",
			Reason: fmt.Sprintf("message %s already belongs to thread %s", msg.ID, prev.ThreadID),
		}
	}
	if err := m.messages.Create(ctx, msg.ID, msg); err != nil {
		return domain.Message{}, fmt.Errorf("failed to create message %s: %w", msg.ID, err)
	}

	var stale *domain.Message
	if prev.ID != "" {
		stale = &prev
	}
	if err := m.reindex(ctx, stale, msg); err != nil {
		return domain.Message{}, err
	}

	thread, err := m.threads.Mutate(ctx, msg.ThreadID, func(t domain.Thread) domain.Thread {
		t.Upsert(msg)
		return t
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to update thread %s: %w", msg.ThreadID, err)
	}

	m.log.Debug().
		Str("messageId", msg.ID).
		Str("threadId", msg.ThreadID).
		Str("folder", string(msg.Folder)).
		Int("members", len(thread.Messages)).
		Msg("message ingested")
	return msg, nil
}

// reindex moves a message's index entries from old to cur. New entries are
// added before stale ones are removed: a reader tolerates an extra entry
// because listings re-check thread state, but a missing one hides mail.
func (m *Mailbox) reindex(ctx context.Context, old *domain.Message, cur domain.Message) error {
	want := make(map[string]bool)
	key := sortKey(cur)
	for _, f := range cur.Views() {
		want[folderIndex(f)] = true
		if err := m.index(f).Add(ctx, key); err != nil {
			return fmt.Errorf("failed to index message %s in %s: %w", cur.ID, f, err)
		}
	}
	if old == nil {
		return nil
	}
	oldKey := sortKey(*old)
	for _, f := range old.Views() {
		if oldKey == key && want[folderIndex(f)] {
			continue
		}
		if err := m.index(f).Remove(ctx, oldKey); err != nil {
			return fmt.Errorf("failed to unindex message %s from %s: %w", old.ID, f, err)
		}
	}
	return nil
}

// PatchMessage applies p to the message, propagates the result into its
// thread and moves its index entries when its folder or star changed.
func (m *Mailbox) PatchMessage(ctx context.Context, id string, p domain.MessagePatch) (_ domain.Message, err error) {
	ctx, span := m.startSpan(ctx, "PatchMessage", attribute.String("message.id", id))
	defer func() { endSpan(span, err) }()

	if err := p.Validate(); err != nil {
		return domain.Message{}, err
	}
	ok, err := m.messages.Exists(ctx, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to look up message %s: %w", id, err)
	}
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}

	var old domain.Message
	updated, err := m.messages.Mutate(ctx, id, func(cur domain.Message) domain.Message {
		old = cur
		return p.Apply(cur)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to patch message %s: %w", id, err)
	}

	if _, err := m.threads.Mutate(ctx, updated.ThreadID, func(t domain.Thread) domain.Thread {
		t.Upsert(updated)
		return t
	}); err != nil {
		return domain.Message{}, fmt.Errorf("failed to update thread %s: %w", updated.ThreadID, err)
	}

	if old.Folder != updated.Folder || old.IsStarred != updated.IsStarred {
		if err := m.reindex(ctx, &old, updated); err != nil {
			return domain.Message{}, err
		}
		m.log.Debug().
			Str("messageId", id).
			Str("from", string(old.Folder)).
			Str("to", string(updated.Folder)).
			Bool("starred", updated.IsStarred).
			Msg("message reindexed")
	}
	return updated, nil
}

// MarkThreadRead flags every message of the thread as read, first on the
// aggregate and then on each member record. Running it again after a partial
// failure completes the cascade.
func (m *Mailbox) MarkThreadRead(ctx context.Context, threadID string) (_ domain.Thread, err error) {
	ctx, span := m.startSpan(ctx, "MarkThreadRead", attribute.String("thread.id", threadID))
	defer func() { endSpan(span, err) }()

	ok, err := m.threads.Exists(ctx, threadID)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("failed to look up thread %s: %w", threadID, err)
	}
	if !ok {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}

	thread, err := m.threads.Mutate(ctx, threadID, func(t domain.Thread) domain.Thread {
		t.MarkAllRead()
		return t
	})
	if err != nil {
		return domain.Thread{}, fmt.Errorf("failed to mark thread %s read: %w", threadID, err)
	}

	for _, member := range thread.Messages {
		ok, err := m.messages.Exists(ctx, member.ID)
		if err != nil {
			return domain.Thread{}, fmt.Errorf("failed to look up message %s: %w", member.ID, err)
		}
		if !ok {
			m.log.Warn().Str("threadId", threadID).Str("messageId", member.ID).Msg("thread member has no message record")
			continue
		}
		if _, err := store.Patch(ctx, m.messages, member.ID, map[string]any{"isRead": true}); err != nil {
			return domain.Thread{}, fmt.Errorf("failed to mark message %s read: %w", member.ID, err)
		}
	}
	return thread, nil
}

// ListThreadsByFolder returns up to limit threads filed in folder, newest
// first. Only the newest ScanLimit index entries are considered. Each thread
// is re-checked against its own folder and star state, so entries left stale
// by an interrupted patch are filtered out.
func (m *Mailbox) ListThreadsByFolder(ctx context.Context, folder domain.Folder, limit int) (_ []domain.Thread, err error) {
	ctx, span := m.startSpan(ctx, "ListThreadsByFolder", attribute.String("folder", string(folder)))
	defer func() { endSpan(span, err) }()

	if !folder.Valid() {
		return nil, &domain.ValidationError{Field: "folder", Reason: "unknown folder " + string(folder)}
	}
	limit = m.clampLimit(limit)

	keys, _, err := m.index(folder).Reverse(ctx, "", m.opts.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", folder, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := messageIDFromKey(k); ok {
			ids = append(ids, id)
		}
	}

	msgs, err := fetchAll(ctx, ids, m.messages.Get)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve messages in %s: %w", folder, err)
	}
	seen := make(map[string]bool)
	var threadIDs []string
	for _, msg := range msgs {
		if msg.ThreadID == "" || seen[msg.ThreadID] {
			continue
		}
		seen[msg.ThreadID] = true
		threadIDs = append(threadIDs, msg.ThreadID)
	}

	threads, err := fetchAll(ctx, threadIDs, m.threads.Get)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve threads in %s: %w", folder, err)
	}
	out := make([]domain.Thread, 0, len(threads))
	for _, t := range threads {
		if !t.Exists() {
			continue
		}
		if folder == domain.FolderStarred {
			if !t.IsStarred {
				continue
			}
		} else if t.Folder != folder {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	span.SetAttributes(attribute.Int("scanned", len(keys)), attribute.Int("threads", len(out)))
	return out, nil
}

func (m *Mailbox) clampLimit(limit int) int {
	if limit <= 0 {
		return m.opts.DefaultLimit
	}
	return min(limit, m.opts.MaxLimit)
}

// fetchAll runs get for every id with bounded concurrency, keeping order.
func fetchAll[T any](ctx context.Context, ids []string, get func(context.Context, string) (T, error)) ([]T, error) {
	out := make([]T, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveWorkers)
	for i, id := range ids {
		g.Go(func() error {
			v, err := get(ctx, id)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage returns the message and its owning thread.
func (m *Mailbox) GetMessage(ctx context.Context, id string) (MessageView, error) {
	ok, err := m.messages.Exists(ctx, id)
	if err != nil {
		return MessageView{}, fmt.Errorf("failed to look up message %s: %w", id, err)
	}
	if !ok {
		return MessageView{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	msg, err := m.messages.Get(ctx, id)
	if err != nil {
		return MessageView{}, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	thread, err := m.threads.Get(ctx, msg.ThreadID)
	if err != nil {
		return MessageView{}, fmt.Errorf("failed to get thread %s: %w", msg.ThreadID, err)
	}
	return MessageView{Message: msg, Thread: thread}, nil
}

// GetThread returns the thread aggregate.
func (m *Mailbox) GetThread(ctx context.Context, id string) (domain.Thread, error) {
	ok, err := m.threads.Exists(ctx, id)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("failed to look up thread %s: %w", id, err)
	}
	if !ok {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	thread, err := m.threads.Get(ctx, id)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("failed to get thread %s: %w", id, err)
	}
	return thread, nil
}

// SendMessage files an outgoing message from the configured identity in the
// sent folder. It joins req.ThreadID when set and starts a thread otherwise.
func (m *Mailbox) SendMessage(ctx context.Context, req SendRequest) (_ domain.Message, err error) {
	ctx, span := m.startSpan(ctx, "SendMessage")
	defer func() { endSpan(span, err) }()

	addr, err := mail.ParseAddress(strings.TrimSpace(req.To))
	if err != nil {
		return domain.Message{}, &domain.ValidationError{Field: "to", Reason: err.Error()}
	}
	name := addr.Name
	if name == "" {
		name, _, _ = strings.Cut(addr.Address, "@")
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = m.newID()
	}

	msg := domain.Message{
		ID:        m.newID(),
		ThreadID:  threadID,
		From:      m.opts.Identity,
		To:        []domain.Address{{Name: name, Email: addr.Address}},
		Subject:   req.Subject,
		Body:      req.Body,
		Snippet:   domain.Snippet(req.Body, domain.SnippetLength),
		Timestamp: m.now().UnixMilli(),
		IsRead:    true,
		Folder:    domain.FolderSent,
	}
	span.SetAttributes(attribute.String("message.id", msg.ID), attribute.String("thread.id", threadID))
	return m.ProcessNewMessage(ctx, msg)
}

// SimulateInbound delivers a synthetic unread message into the inbox on a new
// thread. An empty subject uses the configured default.
func (m *Mailbox) SimulateInbound(ctx context.Context, subject string) (domain.Message, error) {
	if subject == "" {
		subject = m.opts.SimulatorSubject
	}
	msg := domain.Message{
		ID:        m.newID(),
		ThreadID:  m.newID(),
		From:      m.opts.Simulator,
		To:        []domain.Address{m.opts.Identity},
		Subject:   subject,
		Body:      "Generated automatically for testing high-performance indexing.",
		Snippet:   "This is a simulated incoming email.",
		Timestamp: m.now().UnixMilli(),
		Folder:    domain.FolderInbox,
	}
	return m.ProcessNewMessage(ctx, msg)
}

// CurrentUser returns the first stored user, or the first seed user when
// there are none.
func (m *Mailbox) CurrentUser(ctx context.Context) (domain.User, error) {
	users, _, err := m.users.List(ctx, "", 1)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		return seedUsers[0], nil
	}
	return users[0], nil
}
