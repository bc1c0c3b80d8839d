package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buzzdeck/buzzdeck/internal/api"
	"github.com/buzzdeck/buzzdeck/internal/config"
	"github.com/buzzdeck/buzzdeck/internal/game"
	"github.com/buzzdeck/buzzdeck/internal/statehttp"
	"github.com/buzzdeck/buzzdeck/internal/transport"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("BUZZDECK_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	configPath := flag.String("config", "buzzdeck.yaml", "path to config file")
	flavorFlag := flag.String("flavor", "", "client flavor: display, buzzer or admin (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *flavorFlag != "" {
		cfg.Client.Flavor = *flavorFlag
	}

	flavor := game.Flavor(cfg.Client.Flavor)
	caps, err := game.CapabilitiesFor(flavor)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid client flavor")
	}

	var channel transport.Channel
	if cfg.Server.NATSURL != "" {
		channel = transport.NewNATSChannel(transport.DefaultNATSConfig(cfg.Server.NATSURL, cfg.Client.GameID))
	} else {
		channel = transport.NewWSChannel(transport.DefaultWSConfig(cfg.Server.WSURL))
	}

	queries := api.NewClient(cfg.Server.APIURL)

	store := game.NewStore(game.Config{
		GameID:       cfg.Client.GameID,
		Flavor:       flavor,
		Caps:         caps,
		TeamID:       cfg.Client.TeamID,
		BuzzerAlias:  cfg.Client.BuzzerAlias,
		TickInterval: cfg.TickInterval(),
	}, channel, queries, clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// Surface the local countdown at whole-second transitions; renderers
	// polling /state get the millisecond-level readings.
	go func() {
		last := int64(-1)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-store.CountdownSnapshots():
				sec := int64(snap.Remaining / time.Second)
				if sec != last {
					last = sec
					log.Debug().Int64("remaining_sec", sec).Msg("countdown")
				}
			}
		}
	}()

	if cfg.Local.ListenAddr != "" {
		local := statehttp.NewServer(cfg.Local.ListenAddr, store)
		go func() {
			if err := local.Run(ctx); err != nil {
				log.Error().Err(err).Msg("local state endpoint failed")
			}
		}()
	}

	log.Info().
		Str("flavor", string(flavor)).
		Str("game_id", cfg.Client.GameID).
		Msg("starting buzzdeck client")

	if err := store.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("client stopped with error")
	}

	if err := channel.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close transport")
	}
}
