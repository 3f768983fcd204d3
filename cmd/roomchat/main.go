package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/logging"
	"github.com/omochice/roomchat/internal/resolver"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/telemetry"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	config.BindFlags(fs)
	token := fs.String("token", "", "auth token presented to the room lookup API (required)")
	origin := fs.String("origin", "", "web origin used for share links (default lookup URL)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: roomchat [flags] <room-id>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one room id is required")
	}
	if *token == "" {
		return errors.New("--token is required")
	}
	roomID := fs.Arg(0)

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, "roomchat", os.Stderr)
	if err != nil {
		return err
	}
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "roomchat", cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	dialer := client.NewDialer(clientCfg, client.WithLogger(logger))
	ctl := session.New(
		resolver.NewHTTPResolver(cfg.LookupURL, nil),
		session.DialerConnector(dialer),
		session.WithLogger(logger),
	)
	defer ctl.Close()

	if *origin == "" {
		*origin = cfg.LookupURL
	}
	term := newTerminal(os.Stdout, roomID, *origin)

	updates, cancel := ctl.Subscribe()
	defer cancel()

	logger.Debug().Str("room", roomID).Str("environment", string(clientCfg.Environment)).Msg("joining room")
	if err := ctl.Join(roomID, *token); err != nil {
		return err
	}
	term.printf("Type messages to chat, /help for commands.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return term.render(gctx, updates)
	})
	g.Go(func() error {
		return term.readInput(gctx, os.Stdin, ctl)
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
