// Example running two objects that bounce a counter between them, plus an
// exclusive reporter object on its own thread.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/najoast/actorrt/bootstrap"
	"github.com/najoast/actorrt/core"
)

const (
	msgBall core.MessageType = iota + 1
	msgReport
)

// player returns the ball to its peer until the rally reaches limit.
type player struct {
	rt     *core.Runtime
	peer   string
	limit  uint64
	hits   atomic.Uint64
	logger *slog.Logger
}

func (p *player) HandleMessage(ctx context.Context, msg *core.Message) error {
	if msg.Type != msgBall {
		return errors.New("unexpected message type")
	}
	self, _ := core.Self(ctx)
	n := msg.ID + 1
	p.hits.Add(1)
	if n >= p.limit {
		p.logger.Info("rally finished", slog.String("player", self.Name()), slog.Uint64("hits", n))
		return p.rt.SendByName("reporter", &core.Message{Type: msgReport, ID: n, Source: self.ID()})
	}
	return p.rt.SendByName(p.peer, &core.Message{Type: msgBall, ID: n, Source: self.ID()})
}

// reporter runs on a dedicated thread and logs finished rallies.
type reporter struct {
	logger *slog.Logger
	done   chan struct{}
}

func (r *reporter) HandleMessage(ctx context.Context, msg *core.Message) error {
	r.logger.Info("rally report", slog.Uint64("hits", msg.ID), slog.Uint64("from", uint64(msg.Source)))
	close(r.done)
	return nil
}

func (r *reporter) Finalize() {
	r.logger.Info("reporter reclaimed")
}

func main() {
	configFile := flag.String("config", "", "configuration file (yaml or json)")
	rally := flag.Uint64("rally", 100000, "number of hits before the rally ends")
	flag.Parse()

	builder := bootstrap.NewApplicationBuilder()
	if *configFile != "" {
		builder = builder.WithConfigFile(*configFile)
	}
	app, err := builder.Build()
	if err != nil {
		slog.Error("build application", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.Logger()
	rt := app.Runtime()

	rep := &reporter{logger: logger, done: make(chan struct{})}
	repObj, err := rt.Spawn(rep, core.ObjectOptions{Name: "reporter", Exclusive: true})
	if err != nil {
		logger.Error("spawn reporter", slog.Any("error", err))
		os.Exit(1)
	}

	ping := &player{rt: rt, peer: "pong", limit: *rally, logger: logger}
	pong := &player{rt: rt, peer: "ping", limit: *rally, logger: logger}
	if _, err := rt.Spawn(ping, core.ObjectOptions{Name: "ping"}); err != nil {
		logger.Error("spawn ping", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := rt.Spawn(pong, core.ObjectOptions{Name: "pong"}); err != nil {
		logger.Error("spawn pong", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		start := time.Now()
		if err := rt.SendByName("ping", &core.Message{Type: msgBall}); err != nil {
			logger.Error("serve", slog.Any("error", err))
			cancel()
			return
		}
		select {
		case <-rep.done:
		case <-ctx.Done():
			return
		}
		logger.Info("rally done",
			slog.Duration("elapsed", time.Since(start)),
			slog.Uint64("ping", ping.hits.Load()),
			slog.Uint64("pong", pong.hits.Load()),
		)
		if err := repObj.Delete(); err != nil {
			logger.Warn("delete reporter", slog.Any("error", err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error("application stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
