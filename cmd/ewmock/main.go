package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := defaultMockConfig()
	listen := flag.String("listen", ":16005", "accept bridge connections on this address")
	dial := flag.String("dial", "", "dial a passive bridge at this address instead of listening")
	flag.BoolVar(&cfg.Ack, "ack", cfg.Ack, "speak the acknowledged (SQ:) variant")
	flag.BoolVar(&cfg.BigEndian, "big-endian", cfg.BigEndian, "encode packets in big-endian byte order")
	flag.Float64Var(&cfg.SampleRate, "rate", cfg.SampleRate, "samples per second")
	flag.DurationVar(&cfg.PacketInterval, "packet", cfg.PacketInterval, "time span of each packet")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "heartbeat interval, 0 disables")
	flag.StringVar(&cfg.HeartbeatText, "heartbeat-text", cfg.HeartbeatText, "heartbeat text")
	flag.StringVar(&cfg.Station, "station", cfg.Station, "station code")
	flag.StringVar(&cfg.Network, "network", cfg.Network, "network code")
	flag.StringVar(&cfg.Channel, "channel", cfg.Channel, "channel code")
	flag.BoolVar(&cfg.Legacy, "tracebuf1", cfg.Legacy, "send legacy TRACEBUF packets")
	flag.Parse()

	observability.InitLogger("ewmock")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *dial != "" {
		err = dialLoop(ctx, *dial, cfg)
	} else {
		err = listenLoop(ctx, *listen, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("mock export stopped")
	}
}

func listenLoop(ctx context.Context, addr string, cfg mockConfig) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("mock export listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		err = newExporter(cfg).serve(ctx, conn)
		log.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("bridge disconnected")
	}
}

func dialLoop(ctx context.Context, addr string, cfg mockConfig) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("addr", addr).Msg("dial bridge failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		err = newExporter(cfg).serve(ctx, conn)
		log.Info().Err(err).Str("remote", addr).Msg("bridge disconnected")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
