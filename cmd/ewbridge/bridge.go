package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/danmuck/ewbridge/internal/admin"
	"github.com/danmuck/ewbridge/internal/config"
	"github.com/danmuck/ewbridge/internal/link"
	"github.com/danmuck/ewbridge/internal/sink"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type bridge struct {
	manager *link.Manager
	admin   *admin.Server
	sinks   sink.Multi
}

func build(cfg config.Config) (*bridge, error) {
	sessionCfg := cfg.SessionConfig()
	strategy, err := link.NewStrategy(cfg.Topology, cfg.Address, sessionCfg)
	if err != nil {
		return nil, err
	}
	sinks, ws, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}

	b := &bridge{
		manager: link.NewManager(strategy, sessionCfg, tracebuf.NewDecoder(cfg.DecoderConfig()), sinks),
		sinks:   sinks,
	}
	if cfg.Admin.Enabled {
		var stream http.Handler
		if ws != nil {
			stream = ws
		}
		b.admin = admin.New(admin.Config{
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
			TLSCert:     cfg.Admin.TLSCert,
			TLSKey:      cfg.Admin.TLSKey,
		}, b.manager, stream)
	}
	return b, nil
}

// buildSinks returns the enabled sinks in delivery order and the websocket
// sink, if any, for the admin router.
func buildSinks(cfg config.Config) (sink.Multi, *sink.WebSocketSink, error) {
	var (
		out sink.Multi
		ws  *sink.WebSocketSink
	)
	if cfg.Sinks.Log.Enabled {
		out = append(out, sink.NewLogSink(log.Logger))
	}
	if cfg.Sinks.NATS.Enabled {
		ns, err := sink.DialNATS(sink.NATSConfig{
			URL:           cfg.Sinks.NATS.URL,
			SubjectPrefix: cfg.Sinks.NATS.SubjectPrefix,
			ClientName:    cfg.Sinks.NATS.ClientName,
		})
		if err != nil {
			_ = out.Close()
			return nil, nil, err
		}
		out = append(out, ns)
	}
	if cfg.Sinks.WebSocket.Enabled {
		ws = sink.NewWebSocketSink(cfg.Sinks.WebSocket.SendBuffer)
		out = append(out, ws)
	}
	if len(out) == 0 {
		log.Warn().Msg("no sinks enabled; decoded samples are discarded")
	}
	return out, ws, nil
}

// run blocks until ctx ends or a component fails, then closes the sinks.
func (b *bridge) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.manager.Run(gctx)
	})
	if b.admin != nil {
		g.Go(func() error {
			return b.admin.Run(gctx)
		})
	}
	err := g.Wait()
	return errors.Join(err, b.sinks.Close())
}
