package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"breakwatch/internal/agent"
	"breakwatch/internal/breaktimer"
	"breakwatch/internal/events"

	"github.com/spf13/cobra"
)

type agentOptions struct {
	workerID string
	name     string
	url      string
}

func newAgentCmd(a *app) *cobra.Command {
	var opts agentOptions
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Connect as a worker and run break timers from the terminal",
		Long: "agent identifies to the hub as a worker, starts a break timer whenever the scheduler signals one, " +
			"and reads commands from stdin: pause, resume, end, confirm, cancel, back, status.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runAgent(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.workerID, "worker", "", "worker id to identify as")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name shown in presence")
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8080/ws", "hub websocket URL")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func (a *app) runAgent(ctx context.Context, opts agentOptions, in io.Reader, out io.Writer) error {
	conn, err := agent.Dial(ctx, opts.url)
	if err != nil {
		return err
	}

	ag := agent.New(conn, agent.Config{WorkerID: opts.workerID, Name: opts.name}, a.logger,
		agent.WithCallbacks(agent.Callbacks{
			OnStarted: func(t events.AutoStartTrigger, _ breaktimer.Snapshot) {
				fmt.Fprintf(out, "%s break started (%s scheduled, %d min)\n", t.Type, t.ScheduledStart, t.Duration)
			},
			OnAwaiting: func(breaktimer.Snapshot) {
				fmt.Fprintln(out, "break time is over, type 'back' to confirm your return")
			},
			OnEnded: func(o breaktimer.Outcome) {
				fmt.Fprintf(out, "break ended (%s), overrun %s, late=%t\n", o.Reason, o.Overrun.Round(time.Second), o.Late)
			},
			OnEvent: func(env events.Envelope) {
				if env.Event == events.UsersOnline {
					var p events.PresencePayload
					if env.Decode(&p) == nil {
						a.logger.Debug().Int("online", p.Count).Msg("presence")
					}
				}
			},
		}))

	go readCommands(ctx, ag, in, out)

	a.logger.Info().Str("url", opts.url).Str("worker_id", opts.workerID).Msg("agent connected")
	return ag.Run(ctx)
}

func readCommands(ctx context.Context, ag *agent.Agent, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := runCommand(ag, strings.TrimSpace(scanner.Text()), out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func runCommand(ag *agent.Agent, line string, out io.Writer) error {
	switch line {
	case "":
		return nil
	case "pause":
		_, err := ag.Pause()
		return err
	case "resume":
		_, err := ag.Resume()
		return err
	case "end":
		label, err := ag.RequestEnd()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "type 'confirm' to %s or 'cancel' to keep going\n", label)
		return nil
	case "cancel":
		ag.CancelEnd()
		return nil
	case "confirm":
		_, err := ag.ConfirmEnd()
		return err
	case "back":
		_, err := ag.ConfirmReturn()
		return err
	case "status":
		snap, ok := ag.Snapshot()
		if !ok {
			return agent.ErrNoActiveBreak
		}
		fmt.Fprintln(out, formatSnapshot(snap))
		return nil
	default:
		return errors.New("unknown command " + line)
	}
}

func formatSnapshot(s breaktimer.Snapshot) string {
	return fmt.Sprintf("%s %s: elapsed %s, remaining %s, pause available %t",
		s.Type, s.Phase,
		s.Elapsed.Round(time.Second), s.Remaining.Round(time.Second),
		s.PauseAvailable)
}
