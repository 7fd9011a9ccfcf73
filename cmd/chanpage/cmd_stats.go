package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/chanpage/config"
	"github.com/shashiranjanraj/chanpage/internal/paging"
	"github.com/shashiranjanraj/chanpage/internal/store/bodycache"
	"github.com/shashiranjanraj/chanpage/internal/store/gormstore"
)

// chanpage stats <channel> — loads one channel against the configured
// store, prints its Stats() snapshot as JSON, and unloads it again. Useful
// for inspecting a channel's paging state without running the full server.
var statsCmd = &cobra.Command{
	Use:   "stats <channel>",
	Short: "Print a channel's paging stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return fmt.Errorf("config: %w", err)
		}

		db, err := gormstore.Connect(config.StoreDriver(), config.StoreDSN())
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		store, err := gormstore.NewStore(db)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}

		ms := bodycache.NewStore(nil, 0, store)

		cfg := paging.Config{
			FullSize:               config.ChannelFullSize(),
			PageSize:               config.ChannelPageSize(),
			DownCacheSize:          config.ChannelDownCacheSize(),
			AcceptReliableMessages: config.ChannelAcceptReliableMessages(),
			Recoverable:            config.ChannelRecoverable(),
		}

		core, err := paging.NewChannelCore(args[0], ms, store, cfg)
		if err != nil {
			return err
		}
		defer core.Close()

		ctx := context.Background()
		if err := core.Load(ctx); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		defer core.Unload(ctx) //nolint:errcheck

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(core.Stats())
	},
}
