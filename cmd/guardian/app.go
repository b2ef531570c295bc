package main

import (
	"context"
	"fmt"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/config"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/db"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/routers"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/state"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// tableCreator is implemented by stores that can create a missing table.
type tableCreator interface {
	EnsureTable(ctx context.Context, name string, header []string) (bool, error)
}

// app is the fully wired service graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	tables   tableCreator
	caches   *cache.Registry
	sink     notify.Sink
	svc      routers.Services
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	raw, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	store := sheet.NewInstrumented(sheet.NewRateLimited(raw, cfg.StoreRPS, cfg.StoreBurst), a.registry)

	states, err := a.openStates(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSink(); err != nil {
		a.Close()
		return nil, err
	}

	clock := service.NewClock(cfg.Location())
	metrics := service.NewMetrics(a.registry)
	a.caches = cache.NewRegistry(a.registry, nil)

	ledger := service.NewLedger(store, clock, metrics, logger)
	accounts := service.NewAccountService(store, ledger, a.caches.New("ranking", cfg.CacheRankingTTL), logger)
	study := service.NewStudyService(store, ledger, accounts, clock, cfg.StudyMaxMin, metrics, logger)
	jobs := service.NewJobService(store, ledger, a.caches.New("jobs", cfg.CacheJobsTTL), clock, logger)
	shop := service.NewShopService(store, ledger, a.caches.New("shop", cfg.CacheShopTTL), clock, logger)
	missions := service.NewMissionService(store, ledger, accounts, clock, logger)
	a.svc = routers.Services{
		Accounts:  accounts,
		Ledger:    ledger,
		Study:     study,
		Report:    service.NewReportFlow(states, study, accounts, a.sink, logger),
		Jobs:      jobs,
		Shop:      shop,
		Missions:  missions,
		Approvals: service.NewApprovalService(accounts, study, jobs, shop, missions, a.caches.New("pending", cfg.CachePendingTTL)),
		History:   service.NewHistoryService(store, accounts, clock),
	}
	return a, nil
}

func (a *app) openStore() (sheet.Store, error) {
	switch a.cfg.StoreDriver {
	case "memory":
		a.logger.Warn("Используется хранилище в памяти, данные не сохраняются")
		m := sheet.NewMemoryStoreWithDefaults()
		a.tables = m
		return m, nil
	case "postgres", "sqlite":
		conn, err := db.Init(a.cfg.StoreDriver, a.cfg.DatabaseURI)
		if err != nil {
			return nil, fmt.Errorf("подключение к БД: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.logger.Info("Закрытие соединения с БД")
			return conn.Close()
		})
		if err := db.Migrate(conn); err != nil {
			return nil, fmt.Errorf("миграция БД: %w", err)
		}
		s := db.NewSheetStoreSQL(conn, a.cfg.StoreDriver)
		a.tables = s
		return s, nil
	default:
		return nil, fmt.Errorf("неизвестный STORE_DRIVER %q", a.cfg.StoreDriver)
	}
}

func (a *app) openStates(ctx context.Context) (state.Store, error) {
	if a.cfg.RedisURL == "" {
		return state.NewMemoryStore(a.cfg.StateTTL, nil), nil
	}
	rs, err := state.NewRedisStore(a.cfg.RedisURL, a.cfg.StateTTL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	if err := rs.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	return rs, nil
}

func (a *app) openSink() error {
	sinks := notify.Multi{notify.NewLogSink(a.logger)}
	if a.cfg.AMQPURL != "" {
		amqpSink, err := notify.DialAMQP(a.cfg.AMQPURL, a.cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		a.closers = append(a.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
	}
	a.sink = sinks
	return nil
}

func (a *app) sweep(ctx context.Context) ([]models.StudySession, error) {
	return service.SweepAndNotify(ctx, a.svc.Study, a.sink, a.cfg.Timeout(), a.logger)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Ошибка при закрытии ресурса", zap.Error(err))
		}
	}
}
