package domain

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// Message is a single stored email. Timestamp is in milliseconds since the
// Unix epoch.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId"`
	From        Address      `json:"from"`
	To          []Address    `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Snippet     string       `json:"snippet"`
	Timestamp   int64        `json:"timestamp"`
	IsRead      bool         `json:"isRead"`
	IsStarred   bool         `json:"isStarred"`
	Folder      Folder       `json:"folder"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Views returns every folder index the message belongs to: its own folder,
// plus the starred view when it is starred and not in the trash.
func (m *Message) Views() []Folder {
	views := []Folder{m.Folder}
	if m.IsStarred && m.Folder != FolderTrash {
		views = append(views, FolderStarred)
	}
	return views
}

// Validate reports whether m can be ingested.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	case m.ThreadID == "":
		return &ValidationError{Field: "threadId", Reason: "must not be empty"}
	case m.Timestamp < 0:
		return &ValidationError{Field: "timestamp", Reason: "must not be negative"}
	case !m.Folder.Stored():
		return &ValidationError{Field: "folder", Reason: "unknown folder " + string(m.Folder)}
	}
	return nil
}

// MessagePatch is a partial update to a message. Nil fields are left alone.
type MessagePatch struct {
	IsRead    *bool   `json:"isRead,omitempty"`
	IsStarred *bool   `json:"isStarred,omitempty"`
	Folder    *Folder `json:"folder,omitempty"`
}

func (p MessagePatch) Empty() bool {
	return p.IsRead == nil && p.IsStarred == nil && p.Folder == nil
}

func (p MessagePatch) Validate() error {
	if p.Empty() {
		return &ValidationError{Field: "patch", Reason: "no fields to update"}
	}
	if p.Folder != nil && !p.Folder.Stored() {
		return &ValidationError{Field: "folder", Reason: "cannot move a message to " + string(*p.Folder)}
	}
	return nil
}

// Apply returns a copy of m with the patch applied.
func (p MessagePatch) Apply(m Message) Message {
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.IsStarred != nil {
		m.IsStarred = *p.IsStarred
	}
	if p.Folder != nil {
		m.Folder = *p.Folder
	}
	return m
}
