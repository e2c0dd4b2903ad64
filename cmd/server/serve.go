package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/config"
	"github.com/iliyamo/ticket-admission/internal/database"
	"github.com/iliyamo/ticket-admission/internal/events"
	"github.com/iliyamo/ticket-admission/internal/inventory"
	"github.com/iliyamo/ticket-admission/internal/logging"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/queue"
	"github.com/iliyamo/ticket-admission/internal/repository"
	"github.com/iliyamo/ticket-admission/internal/reservation"
	"github.com/iliyamo/ticket-admission/internal/router"
	"github.com/iliyamo/ticket-admission/internal/store"
	"github.com/iliyamo/ticket-admission/internal/store/memstore"
	"github.com/iliyamo/ticket-admission/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	q := queue.New(rdb, queue.Options{
		KeyPrefix:    cfg.Queue.KeyPrefix,
		ActiveWindow: cfg.Queue.ActiveWindow,
		EntryTTL:     cfg.Queue.EntryTTL,
		Retention:    cfg.Queue.Retention,
	})
	activator := queue.NewActivator(q, queue.ActivatorConfig{
		BatchSize: cfg.Queue.BatchSize,
		MaxActive: cfg.Queue.MaxActive,
	}, log)

	var pub events.Publisher = events.NopPublisher{}
	var rabbit *events.RabbitPublisher
	if cfg.Events.Enabled {
		rabbit = events.NewRabbitPublisher(cfg.Events.URL, cfg.Events.EventsQueue, events.PublisherOptions{
			Buffer:      cfg.Events.Buffer,
			DialTimeout: cfg.Events.DialTimeout,
		}, log)
		pub = rabbit
	}

	inv := inventory.New(st, cfg.Reservation.LockWaitTimeout)
	ledger := reservation.New(inv, st, pub, log, reservation.Options{HoldWindow: cfg.Reservation.HoldWindow})
	sweeper := reservation.NewSweeper(ledger, cfg.Reservation.SweepBatchLimit, log)

	if seedSession != 0 {
		if err := seed(ctx, inv, log); err != nil {
			return err
		}
	}

	e := router.New(router.Deps{
		JWTSecret:          cfg.JWTSecret,
		Log:                log,
		Redis:              rdb,
		Store:              st,
		Queue:              q,
		Activator:          activator,
		Inventory:          inv,
		Ledger:             ledger,
		BatchSize:          cfg.Queue.BatchSize,
		ActivationInterval: cfg.Queue.ActivationInterval,
		RateLimit:          cfg.RateLimit,
		SeatCache:          cfg.SeatCache,
		Now:                time.Now,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.NewPeriodic(activator, cfg.Queue.ActivationInterval, log).Run(gctx)
	})
	g.Go(func() error {
		return worker.NewPeriodic(sweeper, cfg.Reservation.SweepInterval, log).Run(gctx)
	})
	if cfg.Events.Enabled {
		consumer := events.NewCommandConsumer(cfg.Events.URL, cfg.Events.CommandsQueue, ledger, log)
		g.Go(func() error { return consumer.Run(gctx) })
		g.Go(func() error { return rabbit.Run(gctx) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.Store.Driver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), func() {}, nil
	default:
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return repository.NewStore(db), func() { _ = db.Close() }, nil
	}
}

// seed creates the seats of one session.  Seats that already exist are
// left alone so restarting with the same flags is harmless.
func seed(ctx context.Context, inv *inventory.Inventory, log logrus.FieldLogger) error {
	price, err := decimal.NewFromString(seedPrice)
	if err != nil {
		return fmt.Errorf("--seed-price: %w", err)
	}
	created := 0
	for i := 1; i <= seedSeats; i++ {
		s := model.Seat{SessionID: seedSession, SeatNumber: fmt.Sprintf("S-%d", i), Price: price}
		err := inv.CreateSeat(ctx, &s)
		switch {
		case err == nil:
			created++
		case errors.Is(err, apperr.ErrConflict):
		default:
			return fmt.Errorf("seed seat %s: %w", s.SeatNumber, err)
		}
	}
	log.WithFields(logrus.Fields{"session_id": seedSession, "created": created}).Info("seats seeded")
	return nil
}
