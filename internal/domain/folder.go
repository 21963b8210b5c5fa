package domain

type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderSent    Folder = "sent"
	FolderDrafts  Folder = "drafts"
	FolderTrash   Folder = "trash"
	FolderStarred Folder = "starred"
)

// Folders lists every folder view, including the derived starred view.
var Folders = []Folder{FolderInbox, FolderSent, FolderDrafts, FolderTrash, FolderStarred}

// Stored reports whether f is a folder a message can actually be filed in.
// The starred view is derived from a flag and is never stored.
func (f Folder) Stored() bool {
	switch f {
	case FolderInbox, FolderSent, FolderDrafts, FolderTrash:
		return true
	}
	return false
}

// Valid reports whether f names any listable view.
func (f Folder) Valid() bool {
	return f.Stored() || f == FolderStarred
}

func ParseFolder(s string) (Folder, error) {
	f := Folder(s)
	if !f.Valid() {
		return "", &ValidationError{Field: "folder", Reason: "unknown folder " + s}
	}
	return f, nil
}
