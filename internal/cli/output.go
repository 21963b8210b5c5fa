package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/lu-zhengda/aeromail/internal/domain"
)

// fprintJSON encodes v as indented JSON to w.
func fprintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// truncate shortens s to at most width terminal cells, marking the cut with
// an ellipsis. Wide characters count as two cells.
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

func formatDate(ms int64) string {
	return time.UnixMilli(ms).Format("Jan 2, 2006")
}

func formatDateTime(ms int64) string {
	return time.UnixMilli(ms).Format("Mon, Jan 2 2006 3:04 PM")
}

func formatAddresses(addrs []domain.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func readStatus(read bool) string {
	if read {
		return "read"
	}
	return "unread"
}

// printMessage writes a message header block followed by its body.
func printMessage(w io.Writer, m domain.Message) {
	fmt.Fprintf(w, "From: %s\n", m.From)
	if len(m.To) > 0 {
		fmt.Fprintf(w, "To: %s\n", formatAddresses(m.To))
	}
	fmt.Fprintf(w, "Subject: %s\n", m.Subject)
	fmt.Fprintf(w, "Date: %s\n", formatDateTime(m.Timestamp))
	fmt.Fprintf(w, "Folder: %s\n", m.Folder)
	status := readStatus(m.IsRead)
	if m.IsStarred {
		status += ", starred"
	}
	fmt.Fprintf(w, "Status: %s\n", status)
	for _, a := range m.Attachments {
		fmt.Fprintf(w, "Attachment: %s (%s, %d bytes)\n", a.Filename, a.ContentType, a.Size)
	}
	fmt.Fprintf(w, "Message ID: %s\n", m.ID)
	fmt.Fprintln(w)
	fmt.Fprintln(w, m.Body)
}
