package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/client"
	"github.com/Tyrowin/companychat/internal/logging"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <room>",
		Short: "Join a room and print its events; lines typed on stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE:  runTail,
	}

	cmd.Flags().String("server", "http://localhost:8080", "chat server base URL")
	cmd.Flags().String("user-id", "", "user id to connect as")
	cmd.Flags().String("user-name", "", "display name")
	cmd.Flags().String("role", string(chat.RoleStudent), "professional or student")
	cmd.Flags().String("email", "", "e-mail, used to match professionals")
	cmd.Flags().String("token", os.Getenv("COMPANYCHAT_TOKEN"), "directory token")
	cmd.Flags().Bool("stdin", false, "send every line read from stdin")
	return cmd
}

func runTail(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	serverURL, _ := flags.GetString("server")
	userID, _ := flags.GetString("user-id")
	userName, _ := flags.GetString("user-name")
	role, _ := flags.GetString("role")
	email, _ := flags.GetString("email")
	token, _ := flags.GetString("token")
	fromStdin, _ := flags.GetBool("stdin")

	if userName == "" {
		userName = userID
	}
	out := cmd.OutOrStdout()
	log := logging.New(cmd.ErrOrStderr(), "warn", "text")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, client.Options{
		ServerURL: serverURL,
		Identity:  chat.Identity{UserID: userID, UserName: userName, UserRole: chat.Role(role), Email: email},
		Token:     token,
		Logger:    log,
		OnEvent:   func(env chat.Envelope) { printEvent(out, env) },
		OnEffect:  func(eff client.Effect) { printEffect(out, eff) },
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Join(ctx, args[0]); err != nil {
		return err
	}
	for _, e := range conn.Timeline().Visible() {
		fmt.Fprintf(out, "%s %s: %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.AuthorName, e.Text)
	}

	if fromStdin {
		go sendLines(ctx, conn, cmd.InOrStdin(), log)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return conn.Err()
		case now := <-ticker.C:
			if n := conn.Timeline().ExpirePending(now); n > 0 {
				fmt.Fprintf(out, "! %d message(s) were not confirmed by the server\n", n)
			}
		}
	}
}

func sendLines(ctx context.Context, conn *client.Conn, in io.Reader, log *slog.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() && ctx.Err() == nil {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := conn.Send(line, nil); err != nil {
			log.Warn("Could not send", "error", err.Error())
		}
	}
}

func printEvent(w io.Writer, env chat.Envelope) {
	switch env.Event {
	case chat.EventNewMessage:
		var m chat.Message
		if env.Decode(&m) == nil {
			suffix := ""
			if m.Ephemeral {
				suffix = " (not saved)"
			}
			fmt.Fprintf(w, "%s %s: %s%s\n", m.Timestamp.Local().Format(time.TimeOnly), m.AuthorName, m.Text, suffix)
		}
	case chat.EventMessageEdited:
		var p chat.MessageEditedPayload
		if env.Decode(&p) == nil {
			fmt.Fprintf(w, "* %s edited: %s\n", p.MessageID, p.Text)
		}
	case chat.EventMessageDeleted:
		var p chat.MessageDeletedPayload
		if env.Decode(&p) == nil {
			fmt.Fprintf(w, "* %s deleted\n", p.MessageID)
		}
	case chat.EventPresenceUpdated:
		var p chat.PresencePayload
		if env.Decode(&p) == nil {
			names := make([]string, 0, len(p.Users))
			for _, u := range p.Users {
				names = append(names, u.UserName)
			}
			fmt.Fprintf(w, "* online in %s: %s\n", p.RoomID, strings.Join(names, ", "))
		}
	}
}

func printEffect(w io.Writer, eff client.Effect) {
	switch eff.Kind {
	case client.EffectInterviewHelp:
		company := eff.CompanyName
		if company == "" {
			company = eff.Message.RoomID
		}
		fmt.Fprintf(w, "! %s needs interview help at %s\n", eff.Message.AuthorName, company)
	case client.EffectRejected:
		fmt.Fprintf(w, "! %s rejected (%s): %s\n", eff.Error.Event, eff.Error.Code, eff.Error.Message)
	}
}
