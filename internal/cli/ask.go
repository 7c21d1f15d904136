package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/stepwise/internal/daemon"
	"github.com/harun/stepwise/pkg/engine"
	"github.com/harun/stepwise/pkg/session"
	"github.com/spf13/cobra"
)

var (
	askFiles    []string
	askMaxSteps int
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Run one request and stream its steps",
	Long: `Run one request through the step loop and print every event as it
happens: tool requests, tool responses, errors and the final answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "file made available to the request (repeatable)")
	askCmd.Flags().IntVar(&askMaxSteps, "max-steps", 0, "maximum tool steps (default from engine.default_max_steps)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print events as JSON lines")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	for _, f := range askFiles {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("file %s: %w", f, err)
		}
	}
	if askMaxSteps < 0 {
		return fmt.Errorf("--max-steps must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := newDaemon(cfg, log, daemon.Options{})
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	defer func() {
		if err := d.Stop(context.Background()); err != nil {
			zl := log.Zerolog()
			zl.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := d.Engine().Submit(ctx, engine.Request{
		Message:  message,
		Files:    askFiles,
		MaxSteps: askMaxSteps,
	}, "")
	if err != nil {
		return err
	}
	stream, err := d.Engine().Stream(id)
	if err != nil {
		return err
	}
	defer stream.Release()

	out := cmd.OutOrStdout()
	for ev, err := range stream.All(ctx) {
		if err != nil {
			return err
		}
		if err := printEvent(out, ev, askJSON); err != nil {
			return err
		}
	}
	return nil
}

// printEvent writes one event as a JSON line or as a readable line.
func printEvent(w io.Writer, ev session.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(ev)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", ev.Type)
	if ev.StepNo > 0 {
		fmt.Fprintf(&b, " step %d", ev.StepNo)
	}
	if ev.ToolUsed != nil {
		fmt.Fprintf(&b, " %s", *ev.ToolUsed)
	}
	if ev.Command != nil && ev.Type == session.EventToolRequest {
		fmt.Fprintf(&b, " %s", *ev.Command)
	}
	if ev.Final {
		if ev.Conclusion {
			b.WriteString(" (concluded)")
		} else {
			b.WriteString(" (step limit reached)")
		}
	}
	if ev.Message != "" {
		b.WriteString("\n")
		b.WriteString(ev.Message)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
