package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lu-zhengda/aeromail/internal/domain"
	"github.com/lu-zhengda/aeromail/internal/store"
	"github.com/lu-zhengda/aeromail/internal/store/boltstore"
	"github.com/lu-zhengda/aeromail/internal/store/sqlite"
)

func newSQLiteBackend(t *testing.T) store.Backend {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newBoltBackend(t *testing.T) store.Backend {
	t.Helper()
	db, err := boltstore.Open(filepath.Join(t.TempDir(), "aeromail.bolt"))
	if err != nil {
		t.Fatalf("boltstore.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var backends = []struct {
	name string
	open func(t *testing.T) store.Backend
}{
	{"sqlite", newSQLiteBackend},
	{"bolt", newBoltBackend},
}

// newTestMailbox returns a mailbox with a fake clock starting at 10s and
// sequential IDs.
func newTestMailbox(t *testing.T, b store.Backend) *Mailbox {
	t.Helper()
	mb := NewMailbox(b, DefaultOptions(), zerolog.Nop())
	var n int
	mb.newID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	clock := int64(10000)
	mb.now = func() time.Time {
		clock += 1000
		return time.UnixMilli(clock)
	}
	return mb
}

func forEachBackend(t *testing.T, fn func(t *testing.T, mb *Mailbox)) {
	for _, be := range backends {
		t.Run(be.name, func(t *testing.T) {
			fn(t, newTestMailbox(t, be.open(t)))
		})
	}
}

func newMsg(id, threadID string, ts int64, read, starred bool, folder domain.Folder) domain.Message {
	return domain.Message{
		ID:        id,
		ThreadID:  threadID,
		From:      domain.Address{Name: "Sender " + id, Email: id + "@example.com"},
		To:        []domain.Address{{Name: "Aero User", Email: "user@aeromail.dev"}},
		Subject:   "Subject " + id,
		Body:      "Body " + id,
		Snippet:   "Snippet " + id,
		Timestamp: ts,
		IsRead:    read,
		IsStarred: starred,
		Folder:    folder,
	}
}

func ingest(t *testing.T, mb *Mailbox, msgs ...domain.Message) {
	t.Helper()
	for _, m := range msgs {
		if _, err := mb.ProcessNewMessage(context.Background(), m); err != nil {
			t.Fatalf("ProcessNewMessage(%s) error: %v", m.ID, err)
		}
	}
}

func indexKeys(t *testing.T, mb *Mailbox, f domain.Folder) []string {
	t.Helper()
	keys, _, err := mb.index(f).Page(context.Background(), "", 1000)
	if err != nil {
		t.Fatalf("Page(%s) error: %v", f, err)
	}
	return keys
}

func getThread(t *testing.T, mb *Mailbox, id string) domain.Thread {
	t.Helper()
	th, err := mb.GetThread(context.Background(), id)
	if err != nil {
		t.Fatalf("GetThread(%s) error: %v", id, err)
	}
	return th
}

func checkThread(t *testing.T, th domain.Thread) {
	t.Helper()
	if len(th.Messages) == 0 {
		t.Fatalf("thread %s has no members", th.ID)
	}
	unread, starred := 0, false
	var max int64
	names := map[string]bool{}
	for i, m := range th.Messages {
		if i > 0 && m.Timestamp < th.Messages[i-1].Timestamp {
			t.Errorf("thread %s members not sorted at %d", th.ID, i)
		}
		if !m.IsRead {
			unread++
		}
		starred = starred || m.IsStarred
		if m.Timestamp > max {
			max = m.Timestamp
		}
	}
	for _, n := range th.ParticipantNames {
		if names[n] {
			t.Errorf("thread %s lists participant %q twice", th.ID, n)
		}
		names[n] = true
	}
	if th.UnreadCount != unread {
		t.Errorf("thread %s unreadCount = %d, want %d", th.ID, th.UnreadCount, unread)
	}
	if th.IsStarred != starred {
		t.Errorf("thread %s isStarred = %v, want %v", th.ID, th.IsStarred, starred)
	}
	if th.LastMessageAt != max {
		t.Errorf("thread %s lastMessageAt = %d, want %d", th.ID, th.LastMessageAt, max)
	}
	if latest := th.Messages[len(th.Messages)-1]; th.Snippet != latest.Snippet {
		t.Errorf("thread %s snippet = %q, want %q", th.ID, th.Snippet, latest.Snippet)
	}
}

func TestProcessNewMessage_ThreadScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		a := newMsg("A", "T1", 1000, false, false, domain.FolderInbox)
		ingest(t, mb, a)

		th := getThread(t, mb, "T1")
		if th.UnreadCount != 1 || th.IsStarred || th.LastMessageAt != 1000 {
			t.Errorf("after A: unread=%d starred=%v last=%d, want 1/false/1000",
				th.UnreadCount, th.IsStarred, th.LastMessageAt)
		}
		if th.Subject != "Subject A" {
			t.Errorf("subject = %q, want %q", th.Subject, "Subject A")
		}

		b := newMsg("B", "T1", 2000, true, true, domain.FolderInbox)
		ingest(t, mb, b)

		th = getThread(t, mb, "T1")
		checkThread(t, th)
		if th.UnreadCount != 1 || !th.IsStarred || th.LastMessageAt != 2000 {
			t.Errorf("after B: unread=%d starred=%v last=%d, want 1/true/2000",
				th.UnreadCount, th.IsStarred, th.LastMessageAt)
		}
		if th.Snippet != b.Snippet {
			t.Errorf("snippet = %q, want %q", th.Snippet, b.Snippet)
		}
		if len(th.Messages) != 2 || th.Messages[0].ID != "A" || th.Messages[1].ID != "B" {
			t.Errorf("messages = %v, want [A B]", th.Messages)
		}
		if th.Subject != "Subject A" {
			t.Errorf("subject changed to %q", th.Subject)
		}

		if got := indexKeys(t, mb, domain.FolderInbox); !reflect.DeepEqual(got, []string{sortKey(a), sortKey(b)}) {
			t.Errorf("inbox keys = %v", got)
		}
		if got := indexKeys(t, mb, domain.FolderStarred); !reflect.DeepEqual(got, []string{sortKey(b)}) {
			t.Errorf("starred keys = %v", got)
		}
	})
}

func TestProcessNewMessage_OutOfOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ingest(t, mb,
			newMsg("late", "T1", 3000, true, false, domain.FolderInbox),
			newMsg("early", "T1", 1000, false, false, domain.FolderInbox),
		)
		th := getThread(t, mb, "T1")
		checkThread(t, th)
		if th.Messages[0].ID != "early" || th.Snippet != "Snippet late" {
			t.Errorf("thread = %+v, want early first and late's snippet", th)
		}
		if th.Subject != "Subject late" {
			t.Errorf("subject = %q, want the creating message's", th.Subject)
		}
	})
}

func TestProcessNewMessage_Replay(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		a := newMsg("A", "T1", 1000, false, true, domain.FolderInbox)
		ingest(t, mb, a, a)

		th := getThread(t, mb, "T1")
		if len(th.Messages) != 1 {
			t.Errorf("members = %d after replay, want 1", len(th.Messages))
		}
		if th.UnreadCount != 1 {
			t.Errorf("unreadCount = %d, want 1", th.UnreadCount)
		}
		if got := indexKeys(t, mb, domain.FolderInbox); len(got) != 1 {
			t.Errorf("inbox keys = %v, want one", got)
		}
	})
}

func TestProcessNewMessage_ReplayMovesIndex(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	a := newMsg("A", "T1", 1000, false, true, domain.FolderInbox)
	ingest(t, mb, a)

	a.Folder = domain.FolderTrash
	ingest(t, mb, a)

	if got := indexKeys(t, mb, domain.FolderInbox); len(got) != 0 {
		t.Errorf("inbox keys = %v, want none", got)
	}
	if got := indexKeys(t, mb, domain.FolderStarred); len(got) != 0 {
		t.Errorf("starred keys = %v, want none", got)
	}
	if got := indexKeys(t, mb, domain.FolderTrash); len(got) != 1 {
		t.Errorf("trash keys = %v, want one", got)
	}
}

func TestProcessNewMessage_RejectsThreadChange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		a := newMsg("A", "T1", 1000, false, false, domain.FolderInbox)
		ingest(t, mb, a)

		moved := a
		moved.ThreadID = "T2"
		_, err := mb.ProcessNewMessage(ctx, moved)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Field != "threadId" {
			t.Fatalf("error = %v, want a threadId validation error", err)
		}

		if ok, _ := mb.threads.Exists(ctx, "T2"); ok {
			t.Error("thread T2 was created")
		}
		stored, err := mb.messages.Get(ctx, "A")
		if err != nil {
			t.Fatal(err)
		}
		if stored.ThreadID != "T1" {
			t.Errorf("stored threadId = %q, want T1", stored.ThreadID)
		}

		if _, err := mb.PatchMessage(ctx, "A", domain.MessagePatch{IsRead: boolPtr(true)}); err != nil {
			t.Fatalf("PatchMessage() error: %v", err)
		}
		th := getThread(t, mb, "T1")
		if len(th.Messages) != 1 || th.UnreadCount != 0 {
			t.Errorf("T1 members=%d unread=%d, want 1 and 0", len(th.Messages), th.UnreadCount)
		}
		checkThread(t, th)
	})
}

func TestProcessNewMessage_Invalid(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	tests := []struct {
		name string
		msg  domain.Message
	}{
		{"empty id", newMsg("", "T1", 1, false, false, domain.FolderInbox)},
		{"empty thread", newMsg("A", "", 1, false, false, domain.FolderInbox)},
		{"negative timestamp", newMsg("A", "T1", -1, false, false, domain.FolderInbox)},
		{"starred folder", newMsg("A", "T1", 1, false, false, domain.FolderStarred)},
		{"unknown folder", newMsg("A", "T1", 1, false, false, domain.Folder("spam"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mb.ProcessNewMessage(context.Background(), tt.msg)
			if !errors.Is(err, domain.ErrInvalid) {
				t.Errorf("error = %v, want ErrInvalid", err)
			}
		})
	}
	if ok, _ := mb.messages.Exists(context.Background(), "A"); ok {
		t.Error("a rejected message was stored")
	}
}

func TestProcessNewMessage_DerivesSnippet(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	m := newMsg("A", "T1", 1000, false, false, domain.FolderInbox)
	m.Snippet = ""
	m.Body = strings.Repeat("x", 150)
	m.To = nil

	got, err := mb.ProcessNewMessage(context.Background(), m)
	if err != nil {
		t.Fatalf("ProcessNewMessage() error: %v", err)
	}
	if len(got.Snippet) != domain.SnippetLength {
		t.Errorf("snippet length = %d, want %d", len(got.Snippet), domain.SnippetLength)
	}
	if got.To == nil {
		t.Error("To should be an empty list, not nil")
	}
}

func ingestAB(t *testing.T, mb *Mailbox) (a, b domain.Message) {
	t.Helper()
	a = newMsg("A", "T1", 1000, false, false, domain.FolderInbox)
	b = newMsg("B", "T1", 2000, true, true, domain.FolderInbox)
	ingest(t, mb, a, b)
	return a, b
}

func folderPtr(f domain.Folder) *domain.Folder { return &f }
func boolPtr(v bool) *bool                     { return &v }

func TestPatchMessage_MoveToTrash(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		a, b := ingestAB(t, mb)

		got, err := mb.PatchMessage(ctx, "B", domain.MessagePatch{Folder: folderPtr(domain.FolderTrash)})
		if err != nil {
			t.Fatalf("PatchMessage() error: %v", err)
		}
		if got.Folder != domain.FolderTrash || !got.IsStarred {
			t.Errorf("patched = %+v, want trash and still starred", got)
		}
		b.Folder = domain.FolderTrash

		if keys := indexKeys(t, mb, domain.FolderInbox); !reflect.DeepEqual(keys, []string{sortKey(a)}) {
			t.Errorf("inbox keys = %v, want only A", keys)
		}
		if keys := indexKeys(t, mb, domain.FolderStarred); len(keys) != 0 {
			t.Errorf("starred keys = %v, want none (trash is excluded)", keys)
		}
		if keys := indexKeys(t, mb, domain.FolderTrash); !reflect.DeepEqual(keys, []string{sortKey(b)}) {
			t.Errorf("trash keys = %v, want only B", keys)
		}

		// The thread follows its latest member, which is now in the trash.
		th := getThread(t, mb, "T1")
		checkThread(t, th)
		if th.Folder != domain.FolderTrash {
			t.Errorf("thread folder = %q, want %q", th.Folder, domain.FolderTrash)
		}
		if member, _ := th.Member("B"); member.Folder != domain.FolderTrash {
			t.Errorf("thread member B folder = %q, want trash", member.Folder)
		}

		inbox, err := mb.ListThreadsByFolder(ctx, domain.FolderInbox, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(inbox) != 0 {
			t.Errorf("inbox lists %d threads, want 0", len(inbox))
		}
		trash, _ := mb.ListThreadsByFolder(ctx, domain.FolderTrash, 10)
		if len(trash) != 1 || trash[0].ID != "T1" {
			t.Errorf("trash = %v, want [T1]", trash)
		}
	})
}

func TestPatchMessage_StarToggles(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		a, _ := ingestAB(t, mb)

		if _, err := mb.PatchMessage(ctx, "A", domain.MessagePatch{IsStarred: boolPtr(true)}); err != nil {
			t.Fatal(err)
		}
		keys := indexKeys(t, mb, domain.FolderStarred)
		if len(keys) != 2 || keys[0] != sortKey(a) {
			t.Errorf("starred keys = %v, want A and B", keys)
		}

		if _, err := mb.PatchMessage(ctx, "A", domain.MessagePatch{IsStarred: boolPtr(false)}); err != nil {
			t.Fatal(err)
		}
		if _, err := mb.PatchMessage(ctx, "B", domain.MessagePatch{IsStarred: boolPtr(false)}); err != nil {
			t.Fatal(err)
		}
		if keys := indexKeys(t, mb, domain.FolderStarred); len(keys) != 0 {
			t.Errorf("starred keys = %v, want none", keys)
		}
		th := getThread(t, mb, "T1")
		checkThread(t, th)
		if th.IsStarred {
			t.Error("thread still starred after unstarring every member")
		}
		if keys := indexKeys(t, mb, domain.FolderInbox); len(keys) != 2 {
			t.Errorf("inbox keys = %v, want both messages", keys)
		}
	})
}

func TestPatchMessage_ReadUpdatesThread(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ingestAB(t, mb)

	if _, err := mb.PatchMessage(context.Background(), "A", domain.MessagePatch{IsRead: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	th := getThread(t, mb, "T1")
	checkThread(t, th)
	if th.UnreadCount != 0 {
		t.Errorf("unreadCount = %d, want 0", th.UnreadCount)
	}
}

func TestPatchMessage_Errors(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()
	ingestAB(t, mb)

	_, err := mb.PatchMessage(ctx, "missing", domain.MessagePatch{IsRead: boolPtr(true)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing message error = %v, want ErrNotFound", err)
	}
	if ok, _ := mb.messages.Exists(ctx, "missing"); ok {
		t.Error("patching a missing message created it")
	}

	_, err = mb.PatchMessage(ctx, "A", domain.MessagePatch{})
	if !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("empty patch error = %v, want ErrInvalid", err)
	}
	_, err = mb.PatchMessage(ctx, "A", domain.MessagePatch{Folder: folderPtr(domain.FolderStarred)})
	if !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("starred folder error = %v, want ErrInvalid", err)
	}
}

func TestMarkThreadRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		ingest(t, mb,
			newMsg("A", "T1", 1000, false, false, domain.FolderInbox),
			newMsg("B", "T1", 2000, false, true, domain.FolderInbox),
			newMsg("C", "T2", 1500, false, false, domain.FolderInbox),
		)

		th, err := mb.MarkThreadRead(ctx, "T1")
		if err != nil {
			t.Fatalf("MarkThreadRead() error: %v", err)
		}
		checkThread(t, th)
		if th.UnreadCount != 0 {
			t.Errorf("unreadCount = %d, want 0", th.UnreadCount)
		}
		for _, id := range []string{"A", "B"} {
			view, err := mb.GetMessage(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if !view.IsRead {
				t.Errorf("message %s not read after cascade", id)
			}
		}
		if other := getThread(t, mb, "T2"); other.UnreadCount != 1 {
			t.Errorf("T2 unreadCount = %d, want 1", other.UnreadCount)
		}

		again, err := mb.MarkThreadRead(ctx, "T1")
		if err != nil {
			t.Fatalf("second MarkThreadRead() error: %v", err)
		}
		if !reflect.DeepEqual(again, th) {
			t.Errorf("second MarkThreadRead changed the thread:\n got %+v\nwant %+v", again, th)
		}
	})
}

func TestMarkThreadRead_NotFound(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	_, err := mb.MarkThreadRead(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if ok, _ := mb.threads.Exists(context.Background(), "nope"); ok {
		t.Error("MarkThreadRead created a thread")
	}
}

func TestMarkThreadRead_SkipsMissingMember(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()
	ingestAB(t, mb)
	if err := mb.messages.DeleteMany(ctx, []string{"A"}); err != nil {
		t.Fatal(err)
	}

	if _, err := mb.MarkThreadRead(ctx, "T1"); err != nil {
		t.Fatalf("MarkThreadRead() error: %v", err)
	}
	if ok, _ := mb.messages.Exists(ctx, "A"); ok {
		t.Error("cascade recreated a deleted message")
	}
}

func TestListThreadsByFolder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			ingest(t, mb, newMsg(fmt.Sprintf("m%d", i), fmt.Sprintf("T%d", i), int64(i*1000), false, i%2 == 0, domain.FolderInbox))
		}
		// A second member in T1 makes it the most recent thread.
		ingest(t, mb, newMsg("m6", "T1", 9000, true, false, domain.FolderInbox))
		ingest(t, mb, newMsg("s1", "S1", 8000, true, false, domain.FolderSent))

		got, err := mb.ListThreadsByFolder(ctx, domain.FolderInbox, 3)
		if err != nil {
			t.Fatalf("ListThreadsByFolder() error: %v", err)
		}
		var ids []string
		for _, th := range got {
			ids = append(ids, th.ID)
		}
		if want := []string{"T1", "T5", "T4"}; !reflect.DeepEqual(ids, want) {
			t.Errorf("threads = %v, want %v", ids, want)
		}

		all, _ := mb.ListThreadsByFolder(ctx, domain.FolderInbox, 0)
		if len(all) != 5 {
			t.Errorf("default limit listed %d threads, want 5 (deduplicated)", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i].LastMessageAt > all[i-1].LastMessageAt {
				t.Errorf("threads not sorted newest first at %d", i)
			}
		}

		starred, _ := mb.ListThreadsByFolder(ctx, domain.FolderStarred, 10)
		if len(starred) != 2 {
			t.Errorf("starred listed %d threads, want 2", len(starred))
		}
		sent, _ := mb.ListThreadsByFolder(ctx, domain.FolderSent, 10)
		if len(sent) != 1 || sent[0].ID != "S1" {
			t.Errorf("sent = %v, want [S1]", sent)
		}
		drafts, err := mb.ListThreadsByFolder(ctx, domain.FolderDrafts, 10)
		if err != nil || drafts == nil || len(drafts) != 0 {
			t.Errorf("drafts = %v, %v; want an empty list", drafts, err)
		}
	})
}

func TestListThreadsByFolder_Limits(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		ingest(t, mb, newMsg(fmt.Sprintf("m%03d", i), fmt.Sprintf("T%03d", i), int64(i), true, false, domain.FolderInbox))
	}

	got, _ := mb.ListThreadsByFolder(ctx, domain.FolderInbox, -1)
	if len(got) != 20 {
		t.Errorf("negative limit listed %d, want default 20", len(got))
	}
	got, _ = mb.ListThreadsByFolder(ctx, domain.FolderInbox, 500)
	if len(got) != 100 {
		t.Errorf("oversized limit listed %d, want max 100", len(got))
	}
	if got[0].ID != "T119" {
		t.Errorf("first thread = %s, want the newest T119", got[0].ID)
	}

	if _, err := mb.ListThreadsByFolder(ctx, domain.Folder("spam"), 10); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("unknown folder error = %v, want ErrInvalid", err)
	}
}

func TestListThreadsByFolder_ScanLimit(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	mb.opts.ScanLimit = 2
	for i := 1; i <= 3; i++ {
		ingest(t, mb, newMsg(fmt.Sprintf("m%d", i), fmt.Sprintf("T%d", i), int64(i*1000), true, false, domain.FolderInbox))
	}

	got, err := mb.ListThreadsByFolder(context.Background(), domain.FolderInbox, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "T3" || got[1].ID != "T2" {
		t.Errorf("threads = %v, want the newest two", got)
	}
}

func TestListThreadsByFolder_IgnoresStaleEntries(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()
	sent := newMsg("s1", "S1", 1000, true, false, domain.FolderSent)
	ingest(t, mb, sent)

	// Entries an interrupted patch could leave behind.
	if err := mb.index(domain.FolderInbox).Add(ctx, sortKey(sent)); err != nil {
		t.Fatal(err)
	}
	if err := mb.index(domain.FolderInbox).Add(ctx, "000000000000005:ghost"); err != nil {
		t.Fatal(err)
	}

	got, err := mb.ListThreadsByFolder(ctx, domain.FolderInbox, 10)
	if err != nil {
		t.Fatalf("ListThreadsByFolder() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("inbox = %v, want stale entries filtered", got)
	}
}

func TestWorkflowInvariants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, mb *Mailbox) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(7, 42))
		folders := []domain.Folder{domain.FolderInbox, domain.FolderSent, domain.FolderDrafts, domain.FolderTrash}
		var ids []string

		for step := 0; step < 80; step++ {
			switch op := rng.IntN(4); {
			case op <= 1 || len(ids) == 0:
				id := fmt.Sprintf("m%03d", step)
				m := newMsg(id, fmt.Sprintf("T%d", rng.IntN(4)), int64(rng.IntN(50)*100),
					rng.IntN(2) == 0, rng.IntN(3) == 0, folders[rng.IntN(len(folders))])
				m.From.Name = fmt.Sprintf("Sender %d", rng.IntN(3))
				ingest(t, mb, m)
				ids = append(ids, id)
			case op == 2:
				p := domain.MessagePatch{IsStarred: boolPtr(rng.IntN(2) == 0)}
				if rng.IntN(2) == 0 {
					p.Folder = folderPtr(folders[rng.IntN(len(folders))])
				}
				if rng.IntN(2) == 0 {
					p.IsRead = boolPtr(rng.IntN(2) == 0)
				}
				if _, err := mb.PatchMessage(ctx, ids[rng.IntN(len(ids))], p); err != nil {
					t.Fatalf("step %d: PatchMessage() error: %v", step, err)
				}
			default:
				tid := fmt.Sprintf("T%d", rng.IntN(4))
				if _, err := mb.MarkThreadRead(ctx, tid); err != nil && !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("step %d: MarkThreadRead() error: %v", step, err)
				}
			}
		}

		msgs, err := mb.messages.All(ctx, 25)
		if err != nil {
			t.Fatal(err)
		}
		byID := make(map[string]domain.Message, len(msgs))
		want := map[domain.Folder][]string{}
		for _, m := range msgs {
			byID[m.ID] = m
			for _, f := range m.Views() {
				want[f] = append(want[f], sortKey(m))
			}
		}

		threads, _ := mb.threads.All(ctx, 25)
		members := 0
		for _, th := range threads {
			checkThread(t, th)
			if latest := th.Messages[len(th.Messages)-1]; th.Folder != latest.Folder {
				t.Errorf("thread %s folder = %q, want latest member's %q", th.ID, th.Folder, latest.Folder)
			}
			for _, m := range th.Messages {
				members++
				if !reflect.DeepEqual(m, byID[m.ID]) {
					t.Errorf("thread %s member %s differs from its record", th.ID, m.ID)
				}
			}
		}
		if members != len(msgs) {
			t.Errorf("threads hold %d members, store holds %d messages", members, len(msgs))
		}

		for _, f := range domain.Folders {
			got := indexKeys(t, mb, f)
			exp := want[f]
			sortStrings(exp)
			if len(got) != len(exp) || (len(got) > 0 && !reflect.DeepEqual(got, exp)) {
				t.Errorf("%s index = %v, want %v", f, got, exp)
			}
		}
	})
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func TestGetMessage(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()
	ingestAB(t, mb)

	view, err := mb.GetMessage(ctx, "A")
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	if view.ID != "A" || view.Thread.ID != "T1" || len(view.Thread.Messages) != 2 {
		t.Errorf("view = %+v", view)
	}

	if _, err := mb.GetMessage(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := mb.GetThread(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetThread error = %v, want ErrNotFound", err)
	}
}

func TestSendMessage(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()

	body := strings.Repeat("é", 120)
	got, err := mb.SendMessage(ctx, SendRequest{To: "Bob Smith <bob@example.com>", Subject: "Hi", Body: body})
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if got.Folder != domain.FolderSent || !got.IsRead || got.IsStarred {
		t.Errorf("sent = %+v, want sent, read, unstarred", got)
	}
	if got.From.Email != "user@aeromail.dev" || got.From.Name != "Current User" {
		t.Errorf("from = %v, want the configured identity", got.From)
	}
	if len(got.To) != 1 || got.To[0].Name != "Bob Smith" || got.To[0].Email != "bob@example.com" {
		t.Errorf("to = %v", got.To)
	}
	if got.Snippet != strings.Repeat("é", 100) {
		t.Errorf("snippet has %d bytes, want 100 characters", len(got.Snippet))
	}
	if got.ID == "" || got.ThreadID == "" || got.ID == got.ThreadID {
		t.Errorf("ids = %q/%q, want two fresh ids", got.ID, got.ThreadID)
	}

	reply, err := mb.SendMessage(ctx, SendRequest{To: "carol@example.com", Body: "again", ThreadID: got.ThreadID})
	if err != nil {
		t.Fatal(err)
	}
	if reply.To[0].Name != "carol" {
		t.Errorf("recipient name = %q, want the local part", reply.To[0].Name)
	}
	th := getThread(t, mb, got.ThreadID)
	if len(th.Messages) != 2 || th.Subject != "Hi" {
		t.Errorf("thread = %+v, want both messages under the first subject", th)
	}

	sent, _ := mb.ListThreadsByFolder(ctx, domain.FolderSent, 10)
	if len(sent) != 1 {
		t.Errorf("sent folder lists %d threads, want 1", len(sent))
	}

	if _, err := mb.SendMessage(ctx, SendRequest{To: "not an address"}); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("bad recipient error = %v, want ErrInvalid", err)
	}
}

func TestSimulateInbound(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()

	got, err := mb.SimulateInbound(ctx, "")
	if err != nil {
		t.Fatalf("SimulateInbound() error: %v", err)
	}
	if got.Subject != "New Message" {
		t.Errorf("subject = %q, want the default", got.Subject)
	}
	if got.From.Name != "System Simulator" || got.Folder != domain.FolderInbox || got.IsRead || got.IsStarred {
		t.Errorf("simulated = %+v", got)
	}

	named, _ := mb.SimulateInbound(ctx, "Quarterly report")
	if named.Subject != "Quarterly report" || named.ThreadID == got.ThreadID {
		t.Errorf("simulated = %+v, want its own thread", named)
	}

	inbox, _ := mb.ListThreadsByFolder(ctx, domain.FolderInbox, 10)
	if len(inbox) != 2 || inbox[0].ID != named.ThreadID {
		t.Errorf("inbox = %v, want the newest simulated thread first", inbox)
	}
	if inbox[0].UnreadCount != 1 {
		t.Errorf("unreadCount = %d, want 1", inbox[0].UnreadCount)
	}
}

func TestCurrentUser(t *testing.T) {
	mb := newTestMailbox(t, newSQLiteBackend(t))
	ctx := context.Background()

	u, err := mb.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() error: %v", err)
	}
	if u.ID != "u1" {
		t.Errorf("empty store user = %q, want seed u1", u.ID)
	}

	if err := mb.users.Create(ctx, "a0", domain.User{ID: "a0", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatal(err)
	}
	u, _ = mb.CurrentUser(ctx)
	if u.ID != "a0" {
		t.Errorf("user = %q, want the first stored user", u.ID)
	}
}
