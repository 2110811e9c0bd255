package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/cfdp/internal/api"
	"github.com/danmuck/cfdp/internal/archive"
	"github.com/danmuck/cfdp/internal/auth"
	"github.com/danmuck/cfdp/internal/config"
	"github.com/danmuck/cfdp/internal/engine"
	"github.com/danmuck/cfdp/internal/filestore"
	"github.com/danmuck/cfdp/internal/observability"
	"github.com/danmuck/cfdp/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

func runServe(c *cli.Context) error {
	cfg, warnings, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	cfg, err = cfg.ExpandPaths()
	if err != nil {
		return err
	}
	observability.InitLogger("cfdpd", uint64(cfg.Engine.EntityID))
	for _, w := range warnings {
		log.Warn().Msgf("cfdpd.serve config %s", w)
	}

	store, err := filestore.NewDir(cfg.Filestore.Root)
	if err != nil {
		return err
	}
	opts := []engine.Option{
		engine.WithFilestore(store),
		engine.WithDiagnostics(func(d engine.Diagnostic) {
			log.Warn().Msgf("cfdpd.serve diagnostic %s", d)
		}),
	}
	if cfg.Archive.Path != "" {
		arc, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer arc.Close()
		opts = append(opts, engine.WithArchive(arc))
	}

	link, err := transport.ListenUDP(cfg.Transport.Listen, cfg.Transport.Remote)
	if err != nil {
		return err
	}
	defer link.Close()

	eng, err := engine.New(cfg.Engine, link, opts...)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(eng, api.Options{
		Node:        fmt.Sprintf("cfdpd-%d", cfg.Engine.EntityID),
		LocalEntity: cfg.Engine.EntityID,
		Validator:   auth.ForToken(cfg.API.Token),
		CorsOrigins: cfg.API.CorsOrigins,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- link.Serve(ctx, eng.OnInboundPDU) }()
	go func() { errCh <- srv.Serve(ctx, cfg.API.Addr) }()

	log.Info().Msgf("cfdpd.serve ready entity=%d udp=%s api=%s root=%s",
		cfg.Engine.EntityID, link.LocalAddr(), cfg.API.Addr, store.Root())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			log.Error().Err(runErr).Msg("cfdpd.serve listener failed")
		}
	}
	stop()
	if err := eng.Close(); err != nil && runErr == nil {
		runErr = err
	}
	log.Info().Msg("cfdpd.serve stopped")
	return runErr
}
