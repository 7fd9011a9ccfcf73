package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shashiranjanraj/chanpage/config"
	"github.com/shashiranjanraj/chanpage/internal/paging"
	"github.com/shashiranjanraj/chanpage/internal/store/bodycache"
	"github.com/shashiranjanraj/chanpage/internal/store/gormstore"
	"github.com/shashiranjanraj/chanpage/pkg/logger"
)

var benchChannel string
var benchMessages int
var benchProducers int

// chanpage bench — drives concurrent producers, a consumer, and a canceller
// against one channel to exercise the paging/down-cache/flush path under
// adversarial interleaving, the way the S1-S6 scenarios do by hand.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a concurrent producer/consumer/canceller load against a channel",
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

		core, err := paging.NewChannelCore(benchChannel, ms, store, paging.Config{
			FullSize:               config.ChannelFullSize(),
			PageSize:               config.ChannelPageSize(),
			DownCacheSize:          config.ChannelDownCacheSize(),
			AcceptReliableMessages: config.ChannelAcceptReliableMessages(),
			Recoverable:            config.ChannelRecoverable(),
		})
		if err != nil {
			return err
		}
		defer core.Close()

		ctx := context.Background()
		if err := core.Load(ctx); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		defer core.Unload(ctx) //nolint:errcheck

		g, gctx := errgroup.WithContext(ctx)

		for p := 0; p < benchProducers; p++ {
			p := p
			count := benchMessages / benchProducers
			if p < benchMessages%benchProducers {
				count++
			}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(p)))
			g.Go(func() error {
				for i := 0; i < count; i++ {
					msgID := fmt.Sprintf("bench-%d-%d", p, i)
					ref := ms.RegisterReference(paging.Message{ID: msgID, Body: []byte(msgID)})
					ref.Priority = int8(rng.Intn(3))
					if err := core.Add(gctx, ref); err != nil {
						return fmt.Errorf("producer %d: add: %w", p, err)
					}
				}
				return nil
			})
		}

		g.Go(func() error {
			delivered := 0
			acknowledged := 0
			for acknowledged < benchMessages {
				ref, err := core.RemoveFirst(gctx)
				if err != nil {
					return fmt.Errorf("consumer: %w", err)
				}
				if ref == nil {
					time.Sleep(time.Millisecond)
					continue
				}
				delivered++
				if delivered%7 == 0 {
					// Redeliver every 7th delivery to exercise cancel-to-front.
					if err := core.Cancel(gctx, ref); err != nil {
						return fmt.Errorf("consumer: cancel: %w", err)
					}
					continue
				}
				acknowledged++
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}

		logger.Info("bench complete", "channel", core.ID(), "stats", core.Stats())
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchChannel, "channel", "bench", "channel ID to drive load against")
	benchCmd.Flags().IntVar(&benchMessages, "messages", 500, "total messages to push through the channel")
	benchCmd.Flags().IntVar(&benchProducers, "producers", 4, "number of concurrent producer goroutines")
}
