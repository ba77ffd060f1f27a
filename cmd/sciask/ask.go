package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/stage"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a scientific question",
	Long: `Ask a scientific question and stream the answer from the research backend.

Examples:
  sciask ask "Does intermittent fasting improve insulin sensitivity?"
  sciask ask --json Is coffee bad for the heart`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		quiet, _ := cmd.Flags().GetBool("quiet")

		client, _, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runAsk(ctx, client.streamer(), strings.Join(args, " "), asJSON, quiet)
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the answer as JSON")
	askCmd.Flags().BoolP("quiet", "q", false, "do not show progress")
}

// progressPrinter prints a step line each time the stage advances.
type progressPrinter struct {
	last stage.Stage
}

func (p *progressPrinter) update(s research.State) {
	if s.Phase != research.PhaseStreaming || s.Stage <= p.last {
		return
	}
	p.last = s.Stage
	printStep("%s", s.Stage.Label())
}

func runAsk(ctx context.Context, s research.Streamer, question string, asJSON, quiet bool) error {
	var opts []research.Option
	if !quiet {
		p := &progressPrinter{}
		printStep("%s", stage.Idle.Label())
		opts = append(opts, research.WithUpdateHandler(p.update))
	}
	ctrl := research.NewController(s, opts...)

	if err := ctrl.Submit(ctx, question); err != nil {
		return err
	}
	if err := ctrl.Wait(ctx); err != nil || ctx.Err() != nil {
		ctrl.Reset()
		return fmt.Errorf("canceled: %w", context.Cause(ctx))
	}

	state := ctrl.Snapshot()
	if state.Phase == research.PhaseErrored {
		return errors.New(state.Error)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state.Answer)
	}
	fmt.Fprint(stdout, "\n"+renderer().Answer(state.Answer))
	return nil
}
