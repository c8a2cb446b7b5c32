package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"e2ee-channels/internal/events"
	"e2ee-channels/pkg/chanclient"

	"github.com/spf13/cobra"
)

const (
	defaultStatePath = "chanctl-state.json"
	defaultServerURL = "http://localhost:8085"
)

type app struct {
	statePath string
	serverURL string
	out       io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chanctl",
		Short:         "Client for end-to-end encrypted channels",
		Long:          "chanctl keeps your key pair in a local state file and talks to the channels service. The server never sees your private key or message plaintext.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVar(&a.statePath, "state", getenv("CHANCTL_STATE_PATH", defaultStatePath), "state file path")
	root.PersistentFlags().StringVar(&a.serverURL, "server", getenv("CHANCTL_URL", defaultServerURL), "channels service base URL")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.channelsCmd(),
		a.createCmd(),
		a.joinCmd(),
		a.approveCmd(),
		a.sendCmd(),
		a.readCmd(),
		a.listenCmd(),
		a.clearCmd(),
		a.deleteChannelCmd(),
		a.deleteMessageCmd(),
	)
	return root
}

func (a *app) registerCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Generate a key pair and create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.statePath); err == nil {
				return fmt.Errorf("state file already exists at %s", a.statePath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if password == "" {
				password = os.Getenv("CHANCTL_PASSWORD")
			}
			c := chanclient.New(a.serverURL)
			id, err := c.Register(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			if _, err := c.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			if err := id.Save(a.statePath); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "registered %s (user %s)\n", email, id.UserID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "account password (or CHANCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Refresh the session token stored in the state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := chanclient.LoadIdentity(a.statePath)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("CHANCTL_PASSWORD")
			}
			c := chanclient.New(a.baseURL(id), chanclient.WithIdentity(id))
			res, err := c.Login(cmd.Context(), id.Email, password)
			if err != nil {
				return err
			}
			if err := id.Save(a.statePath); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in until %s\n", res.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (or CHANCTL_PASSWORD)")
	return cmd
}

func (a *app) channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			res, err := c.ListChannels(cmd.Context())
			if err != nil {
				return err
			}
			for _, ch := range res.Channels {
				mark := " "
				if ch.Joined {
					mark = "*"
				}
				fmt.Fprintf(a.out, "%s %-24s %s\n", mark, ch.Slug, ch.ID)
			}
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a channel and distribute its key to every member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			res, err := sess.CreateChannel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created %s (%s), key wrapped for %d members\n", res.Channel.Slug, res.Channel.ID, res.Members)
			return nil
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <channel>",
		Short: "Request to join a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			res, err := sess.Join(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "join %s: %s\n", args[0], res.Status)
			return nil
		},
	}
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <channel>",
		Short: "Wrap the channel key for every pending joiner (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			added, err := sess.FulfillJoins(cmd.Context(), channelID)
			fmt.Fprintf(a.out, "approved %d joiners\n", added)
			return err
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <message...>",
		Short: "Encrypt and send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := sess.SelectChannel(cmd.Context(), channelID); err != nil {
				return err
			}
			msg, err := sess.SendMessage(cmd.Context(), channelID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "sent %s\n", msg.ID)
			return nil
		},
	}
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <channel>",
		Short: "Print a channel's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := sess.SelectChannel(cmd.Context(), channelID); err != nil && !errors.Is(err, chanclient.ErrNoChannelKey) {
				return err
			}
			msgs, err := sess.Messages(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				meta := m.Meta()
				fmt.Fprintf(a.out, "[%s] %s: %s\n", meta.CreatedAt.Local().Format(time.Kitchen), shortID(meta.UserID), sess.Render(m))
			}
			return nil
		},
	}
}

func (a *app) listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stream live changes and print decrypted messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sess, err := a.session()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			feed := chanclient.NewFeed()
			if res, err := c.ListChannels(ctx); err == nil {
				feed.Seed(res.Channels, nil)
			}
			feed.OnChange = func(ev events.Event) {
				switch ev.Table {
				case events.TableChannels:
					fmt.Fprintf(a.out, "channel %s %s\n", ev.Type, ev.RowID)
				case events.TableChannelKeys:
					fmt.Fprintf(a.out, "received a channel key (%s)\n", ev.RowID)
				case events.TableJoinRequests:
					fmt.Fprintf(a.out, "join request %s %s\n", ev.Type, ev.RowID)
				case events.TableMessages:
					if ev.Type == events.Delete {
						fmt.Fprintf(a.out, "message deleted %s\n", ev.RowID)
						return
					}
					a.printLive(ctx, sess, feed, ev)
				}
			}
			fmt.Fprintln(a.out, "listening, ctrl-c to stop")
			c.StreamWithRetry(ctx, feed, func(err error) {
				fmt.Fprintf(os.Stderr, "stream: %v, reconnecting\n", err)
			})
			return nil
		},
	}
}

func (a *app) printLive(ctx context.Context, sess *chanclient.Session, feed *chanclient.Feed, ev events.Event) {
	msg, ok := feed.Message(ev.RowID)
	if !ok {
		return
	}
	// Load the key lazily; a failure leaves the placeholder.
	_ = sess.SelectChannel(ctx, msg.ChannelID)
	fmt.Fprintf(a.out, "[%s] %s: %s\n", shortID(msg.ChannelID), shortID(msg.UserID), sess.Render(chanclient.FromDTO(msg)))
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <channel>",
		Short: "Delete every message in a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			res, err := c.ClearMessages(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %d messages\n", res.Deleted)
			return nil
		},
	}
}

func (a *app) deleteChannelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-channel <channel>",
		Short: "Delete a channel you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			channelID, err := resolveChannel(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := c.DeleteChannel(cmd.Context(), channelID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted channel %s\n", args[0])
			return nil
		},
	}
}

func (a *app) deleteMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <message-id>",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			return c.DeleteMessage(cmd.Context(), args[0])
		},
	}
}

func (a *app) baseURL(id *chanclient.Identity) string {
	if id.BaseURL != "" && a.serverURL == getenv("CHANCTL_URL", defaultServerURL) {
		return id.BaseURL
	}
	return a.serverURL
}

func (a *app) client() (*chanclient.Client, *chanclient.Identity, error) {
	id, err := chanclient.LoadIdentity(a.statePath)
	if err != nil {
		return nil, nil, fmt.Errorf("load state (run chanctl register first): %w", err)
	}
	if id.Token == "" {
		return nil, nil, chanclient.ErrNotLoggedIn
	}
	return chanclient.New(a.baseURL(id), chanclient.WithIdentity(id)), id, nil
}

func (a *app) session() (*chanclient.Client, *chanclient.Session, error) {
	c, _, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	sess, err := c.NewSession()
	if err != nil {
		return nil, nil, err
	}
	return c, sess, nil
}

// resolveChannel accepts a channel id or slug.
func resolveChannel(ctx context.Context, c *chanclient.Client, ref string) (string, error) {
	res, err := c.ListChannels(ctx)
	if err != nil {
		return "", err
	}
	for _, ch := range res.Channels {
		if ch.ID == ref || ch.Slug == strings.ToLower(ref) {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", ref)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
