package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/logging"
	"github.com/omochice/roomchat/internal/roomserver"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "roomserver: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("roomserver", pflag.ContinueOnError)
	config.BindFlags(fs)
	config.BindServerFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, "roomserver", os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := roomserver.New(roomserver.Options{
		PublicHost:   cfg.Server.PublicHost,
		Rooms:        cfg.Server.Rooms,
		WriteTimeout: cfg.WriteTimeout,
		Debug:        logger.GetLevel() <= zerolog.DebugLevel,
		Logger:       logger,
	})
	for _, id := range cfg.Server.Rooms {
		logger.Info().Str("room", id).Msg("room ready")
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	logger.Info().Msg("room server stopped")
	return nil
}
