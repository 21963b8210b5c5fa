package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/aeromail/internal/domain"
)

func newListCmd() *cobra.Command {
	var folderFlag string
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads in a folder",
		Long:  "List threads in a folder, newest first (defaults to inbox).",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := domain.ParseFolder(folderFlag)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			threads, err := s.mailbox.ListThreadsByFolder(cmd.Context(), folder, limitFlag)
			if err != nil {
				return fmt.Errorf("failed to list threads: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, toJSONThreads(threads))
			}

			if len(threads) == 0 {
				fmt.Fprintln(out, "No messages found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UNREAD\tFROM\tSUBJECT\tDATE\tMSGS\tTHREAD_ID")
			for _, t := range threads {
				unread := " "
				if t.UnreadCount > 0 {
					unread = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					unread,
					truncate(strings.Join(t.ParticipantNames, ", "), 30),
					truncate(t.Subject, 50),
					formatDate(t.LastMessageAt),
					len(t.Messages), t.ID,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&folderFlag, "folder", string(domain.FolderInbox), "folder to list (inbox, sent, drafts, trash, starred)")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "max threads to show (0 uses the configured default)")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <message-id>",
		Short: "Show a message",
		Long:  "Display one message together with a summary of its thread.",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			view, err := s.mailbox.GetMessage(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, view)
			}

			printMessage(out, view.Message)
			fmt.Fprintln(out, strings.Repeat("─", 60))
			fmt.Fprintf(out, "Thread: %s (%d messages, %d unread)\n",
				view.Thread.ID, len(view.Thread.Messages), view.Thread.UnreadCount)
			return nil
		},
	}
}

func newThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Read a thread",
		Long:  "Display all messages in a thread by thread ID.",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			thread, err := s.mailbox.GetThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, thread)
			}

			fmt.Fprintf(out, "Subject: %s\n", thread.Subject)
			fmt.Fprintf(out, "Thread ID: %s\n", thread.ID)
			fmt.Fprintf(out, "Folder: %s\n", thread.Folder)
			fmt.Fprintf(out, "Participants: %s\n", strings.Join(thread.ParticipantNames, ", "))
			fmt.Fprintf(out, "Messages: %d (%d unread)\n", len(thread.Messages), thread.UnreadCount)
			fmt.Fprintln(out, strings.Repeat("─", 60))

			for i, msg := range thread.Messages {
				if i > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, strings.Repeat("─", 60))
				}
				printMessage(out, msg)
			}
			return nil
		},
	}
}

func newPatchCmd() *cobra.Command {
	var readFlag, unreadFlag, starFlag, unstarFlag bool
	var folderFlag string

	cmd := &cobra.Command{
		Use:   "patch <message-id>",
		Short: "Update a message's flags or folder",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.MessagePatch
			if readFlag || unreadFlag {
				v := readFlag
				p.IsRead = &v
			}
			if starFlag || unstarFlag {
				v := starFlag
				p.IsStarred = &v
			}
			if folderFlag != "" {
				f := domain.Folder(folderFlag)
				p.Folder = &f
			}
			if err := p.Validate(); err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			msg, err := s.mailbox.PatchMessage(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, msg)
			}
			starred := ""
			if msg.IsStarred {
				starred = ", starred"
			}
			fmt.Fprintf(out, "Message %s updated: %s, %s%s.\n", msg.ID, msg.Folder, readStatus(msg.IsRead), starred)
			return nil
		},
	}

	cmd.Flags().BoolVar(&readFlag, "read", false, "mark as read")
	cmd.Flags().BoolVar(&unreadFlag, "unread", false, "mark as unread")
	cmd.Flags().BoolVar(&starFlag, "star", false, "star the message")
	cmd.Flags().BoolVar(&unstarFlag, "unstar", false, "remove the star")
	cmd.Flags().StringVar(&folderFlag, "folder", "", "move to folder (inbox, sent, drafts, trash)")
	cmd.MarkFlagsMutuallyExclusive("read", "unread")
	cmd.MarkFlagsMutuallyExclusive("star", "unstar")
	return cmd
}

func newMarkReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <thread-id>",
		Short: "Mark every message in a thread as read",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			thread, err := s.mailbox.MarkThreadRead(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, thread)
			}
			fmt.Fprintf(out, "Marked %d messages read in thread %s.\n", len(thread.Messages), thread.ID)
			return nil
		},
	}
}
