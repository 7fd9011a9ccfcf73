package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/chanpage/config"
	"github.com/shashiranjanraj/chanpage/internal/channelset"
	"github.com/shashiranjanraj/chanpage/internal/opsserver"
	"github.com/shashiranjanraj/chanpage/internal/paging"
	"github.com/shashiranjanraj/chanpage/internal/store/bodycache"
	"github.com/shashiranjanraj/chanpage/internal/store/gormstore"
	"github.com/shashiranjanraj/chanpage/pkg/logger"
)

// chanpage serve — loads every configured channel and runs the ops server
// until SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load configured channels and serve health/metrics/stats",
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

		rdb := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr(),
			Password: config.RedisPassword(),
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unavailable, continuing with process-local body cache only", "error", err)
			rdb = nil
		}

		ms := bodycache.NewStore(rdb, 0, store)

		set := channelset.New()
		cfg := paging.Config{
			FullSize:               config.ChannelFullSize(),
			PageSize:               config.ChannelPageSize(),
			DownCacheSize:          config.ChannelDownCacheSize(),
			AcceptReliableMessages: config.ChannelAcceptReliableMessages(),
			Recoverable:            config.ChannelRecoverable(),
		}

		for _, id := range config.Channels() {
			core, err := paging.NewChannelCore(id, ms, store, cfg)
			if err != nil {
				return fmt.Errorf("channel %s: configure: %w", id, err)
			}
			if err := core.Load(context.Background()); err != nil {
				return fmt.Errorf("channel %s: load: %w", id, err)
			}
			set.Add(core)
			logger.Info("channel loaded", "channel", id, "messageRefs", core.Stats().MessageRefs)
		}
		defer set.CloseAll()

		return opsserver.Start(set)
	},
}
