package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/aeromail/internal/app"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed an empty mailbox and rebuild threads and folder indexes",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.bootstrap.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, jsonAction{OK: true, Action: "init"})
			}
			fmt.Fprintln(out, "Mailbox initialized.")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete all mail and restore the seed mailbox",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.bootstrap.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, jsonAction{OK: true, Action: "reset"})
			}
			fmt.Fprintln(out, "Mailbox reset.")
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var toFlag, subjectFlag, bodyFlag, threadFlag string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		Long:  "File a message from the configured identity in the sent folder.",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := bodyFlag
			if body == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read body from stdin: %w", err)
				}
				body = string(b)
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			msg, err := s.mailbox.SendMessage(cmd.Context(), app.SendRequest{
				To:       toFlag,
				Subject:  subjectFlag,
				Body:     body,
				ThreadID: threadFlag,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, msg)
			}
			fmt.Fprintf(out, "Message sent (id %s, thread %s).\n", msg.ID, msg.ThreadID)
			return nil
		},
	}

	cmd.Flags().StringVar(&toFlag, "to", "", "recipient address")
	cmd.Flags().StringVar(&subjectFlag, "subject", "", "message subject")
	cmd.Flags().StringVar(&bodyFlag, "body", "", "message body (use '-' to read from stdin)")
	cmd.Flags().StringVar(&threadFlag, "thread", "", "thread ID to reply in (starts a new thread when empty)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var subjectFlag string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Deliver a simulated message to the inbox",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			msg, err := s.mailbox.SimulateInbound(cmd.Context(), subjectFlag)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, msg)
			}
			fmt.Fprintf(out, "Delivered %q (id %s, thread %s).\n", msg.Subject, msg.ID, msg.ThreadID)
			return nil
		},
	}

	cmd.Flags().StringVar(&subjectFlag, "subject", "", "message subject (defaults to the configured simulator subject)")
	return cmd
}

func newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the current user",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := s.mailbox.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				return fprintJSON(out, u)
			}
			fmt.Fprintf(out, "%s <%s> (%s)\n", u.Name, u.Email, u.ID)
			return nil
		},
	}
}
