package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sciask/internal/config"
	"github.com/kalambet/sciask/internal/history"
	"github.com/kalambet/sciask/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List previously asked questions",
	Long: `List previously asked questions, newest first, or show one answer in full.

Every successful sync is cached locally so --offline works without the proxy.

Examples:
  sciask history
  sciask history --search caffeine
  sciask history 42
  sciask history --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := historyOptions{}
		opts.search, _ = cmd.Flags().GetString("search")
		opts.offline, _ = cmd.Flags().GetBool("offline")
		opts.watch, _ = cmd.Flags().GetBool("watch")
		opts.asJSON, _ = cmd.Flags().GetBool("json")
		if len(args) == 1 {
			opts.id = args[0]
		}
		if opts.offline && opts.watch {
			return errors.New("--offline and --watch cannot be combined")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Client.UserID == "" {
			return fmt.Errorf("%w. Set client.user_id (SCIASK_CLIENT_USER_ID)", history.ErrNoUserID)
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			if opts.offline {
				return fmt.Errorf("opening history cache: %w", err)
			}
			printWarning("history cache unavailable: %v", err)
			store = nil
		} else {
			defer store.Close()
		}

		if opts.offline {
			return showCachedHistory(ctx, store, cfg.Client.UserID, opts)
		}

		client, _, err := newAPIClient()
		if err != nil {
			return err
		}
		var syncOpts []history.Option
		if store != nil {
			syncOpts = append(syncOpts, history.WithCache(store))
		}
		syncer := client.syncer(syncOpts...)

		if opts.watch {
			return watchHistory(ctx, syncer, cfg.History.PollInterval, opts)
		}

		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("syncing history: %w", err)
		}
		return printHistory(syncer.Items(), opts)
	},
}

func init() {
	historyCmd.Flags().StringP("search", "s", "", "only show questions containing this text")
	historyCmd.Flags().Bool("offline", false, "show the last synced history from the local cache")
	historyCmd.Flags().BoolP("watch", "w", false, "keep refreshing the list")
	historyCmd.Flags().Bool("json", false, "print entries as JSON")
}

type historyOptions struct {
	id      string
	search  string
	offline bool
	watch   bool
	asJSON  bool
}

func showCachedHistory(ctx context.Context, store *storage.Store, userID string, opts historyOptions) error {
	items, state, err := store.LoadHistory(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		printWarning("no cached history for %s; run sciask history while the proxy is up", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading cached history: %w", err)
	}
	printStatus("Cached", "%s (%d items)", state.SyncedAt.Local().Format(time.DateTime), state.ItemCount)
	return printHistory(items, opts)
}

func watchHistory(ctx context.Context, syncer *history.Syncer, interval time.Duration, opts historyOptions) error {
	poller := history.NewPoller(syncer, interval, func(items []history.Item) {
		printStep("Synced %s", time.Now().Format(time.TimeOnly))
		if err := printHistory(items, opts); err != nil {
			slog.Warn("printing history", "error", err)
		}
	})
	printStep("Refreshing every %s, Ctrl-C to stop", interval)
	poller.Run(ctx)
	return nil
}

func printHistory(items []history.Item, opts historyOptions) error {
	r := renderer()

	if opts.id != "" {
		for _, it := range items {
			if string(it.ID) == opts.id {
				entry := history.Normalize(it)
				if opts.asJSON {
					return encodeJSON(entry)
				}
				fmt.Fprint(stdout, r.Entry(entry))
				return nil
			}
		}
		return fmt.Errorf("no history entry with id %q", opts.id)
	}

	entries := history.NormalizeAll(history.Filter(items, opts.search))
	if opts.asJSON {
		return encodeJSON(entries)
	}
	fmt.Fprint(stdout, r.History(entries))
	return nil
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
