package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/buslink/internal/config"
	"github.com/danmuck/buslink/internal/link"
)

var errNoSession = errors.New("no saved session; run buslink connect <credential> first")

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// connect <credential>: claim a pairing credential and start chatting.
func connectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <credential>",
		Short: "Claim a pairing credential (JSON, URL or base64url) and chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			o := a.orchestrator()
			defer o.Close()
			if err := o.ConnectCredential(ctx, args[0]); err != nil {
				return err
			}
			return chat(ctx, o, cmd.InOrStdin(), a.console)
		},
	}
}

func resumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Restore the saved session and chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			o := a.orchestrator()
			defer o.Close()
			ok, err := o.Resume(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errNoSession
			}
			return chat(ctx, o, cmd.InOrStdin(), a.console)
		},
	}
}

// send <text>: restore the saved session, send one message and exit.
func sendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message on the saved session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			o := a.orchestrator()
			defer o.Close()
			ok, err := o.Resume(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errNoSession
			}
			return o.Send(ctx, strings.Join(args, " "))
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			clientID, err := a.store.ClientDeviceID()
			if err != nil {
				fmt.Fprintf(out, "warning: %v\n", err)
			}
			fmt.Fprintf(out, "home:             %s\n", a.store.Dir())
			fmt.Fprintf(out, "client_device_id: %s\n", clientID)
			st, ok, err := a.store.Load()
			if err != nil {
				fmt.Fprintf(out, "saved session unusable: %v\n", err)
			}
			if !ok {
				fmt.Fprintln(out, "session:          none")
				return nil
			}
			fmt.Fprintf(out, "relay_url:        %s\n", st.RelayURL)
			fmt.Fprintf(out, "node_device_id:   %s\n", st.NodeDeviceID)
			fmt.Fprintf(out, "seq:              %d\n", st.Seq)
			return nil
		},
	}
}

func enablePushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable-push",
		Short: "Register for relay push notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			o := a.orchestrator()
			defer o.Close()
			ok, err := o.Resume(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errNoSession
			}
			outcome, err := o.EnablePush(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "push: %s\n", outcome)
			return err
		},
	}
}

func initConfigCmd(a *app) *cobra.Command {
	var (
		kind      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a commented config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(a.cfg.Home, defaultConfigFile)
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, kind, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "client", "template kind: client or relay")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	return cmd
}

// chat reads lines from in until EOF, /quit or ctx is done. Plain lines are
// sent; slash commands drive the session.
func chat(ctx context.Context, o *link.Orchestrator, in io.Reader, c *console) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := handleLine(ctx, o, c, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, o *link.Orchestrator, c *console, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/status":
		st, ok := o.Session()
		if !ok {
			c.printf("* %s\n", o.State())
			return false
		}
		c.printf("* %s node=%s seq=%d pending=%d\n", o.State(), st.NodeDeviceID, st.Seq, len(o.PendingSends()))
	case "/push":
		outcome, _ := o.EnablePush(ctx)
		c.printf("* push: %s\n", outcome)
	case "/connect":
		_ = o.ConnectCredential(ctx, rest)
	case "/disconnect":
		o.Disconnect()
	case "/resume":
		if ok, _ := o.Resume(ctx); !ok {
			c.printf("* %v\n", errNoSession)
		}
	case "/pending":
		for _, p := range o.PendingSends() {
			c.printf("* pending %s attempts=%d error=%q: %s\n", p.MsgID, p.Attempts, p.LastError, p.Text)
		}
	case "/retry":
		n, err := o.RetryPending(ctx)
		if err != nil {
			c.printf("* resent %d, %d still pending\n", n, len(o.PendingSends()))
			return false
		}
		c.printf("* resent %d\n", n)
	default:
		if strings.HasPrefix(cmd, "/") {
			c.printf("* unknown command %s\n", cmd)
			return false
		}
		_ = o.Send(ctx, line)
	}
	return false
}
