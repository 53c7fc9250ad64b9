// Package app инициализирует все компоненты движка.
// app.go — точка сборки: хранилище, сервисы, обработчики, брокер
// и планировщик собираются в один объект App.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/api"
	"serotonyl.ru/credit-engine/internal/broker"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/db/postgres"
	"serotonyl.ru/credit-engine/internal/db/sqlite"
	"serotonyl.ru/credit-engine/internal/features/admin"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/levels"
	"serotonyl.ru/credit-engine/internal/features/pricing"
	"serotonyl.ru/credit-engine/internal/features/purchases"
	"serotonyl.ru/credit-engine/internal/features/rewards"
	"serotonyl.ru/credit-engine/internal/features/spending"
	"serotonyl.ru/credit-engine/internal/jobs"
	"serotonyl.ru/credit-engine/internal/notify"
)

// App содержит все компоненты приложения.
type App struct {
	Config    *config.Config
	Ledger    *ledger.Service
	Rewards   *rewards.Service
	Server    *api.Server
	Scheduler *jobs.Scheduler
	Consumer  *broker.Consumer // nil, если AMQP выключен

	closers []func()
}

// storage — хранилище выбранного драйвера.
type storage struct {
	store    ledger.Store
	queue    rewards.Queue
	attempts admin.AttemptStore
	health   api.HealthFunc
	close    func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	// === 1. Таблицы экономики ===
	levelCalc, err := levels.NewCalculator(cfg.Economy.Levels)
	if err != nil {
		return nil, fmt.Errorf("таблица уровней: %w", err)
	}
	priceCalc := pricing.NewCalculator(cfg.Economy.Pricing)

	// === 2. Хранилище ===
	st, err := openStorage(ctx, cfg, levelCalc)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.close)

	// === 3. Уведомления ===
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.AMQPEnabled {
		pub, err := broker.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка подключения издателя уведомлений: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		notifier = pub
	}

	// === 4. Сервисы ===
	retry := rewards.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RewardRetryMaxAttempts
	retry.BaseDelay = cfg.RewardRetryBaseDelay
	retry.Batch = cfg.RewardRetryBatch

	ledgerService := ledger.NewService(st.store, levelCalc, notifier)
	rewardService := rewards.NewService(ledgerService, st.queue, cfg.Economy.Rewards, retry, notifier)
	spendingService := spending.NewService(ledgerService, priceCalc)
	purchaseService := purchases.NewService(ledgerService, priceCalc, cfg.Economy.Pricing, notifier)
	adminService := admin.NewService(ledgerService, st.attempts, cfg, notifier)

	a.Ledger = ledgerService
	a.Rewards = rewardService

	// === 5. HTTP API ===
	a.Server = api.NewServer(cfg, st.health,
		ledger.NewHandler(ledgerService),
		rewards.NewHandler(rewardService, st.queue),
		spending.NewHandler(spendingService),
		purchases.NewHandler(purchaseService),
		pricing.NewHandler(priceCalc),
		admin.NewHandler(adminService),
	)

	// === 6. Потребитель событий наград ===
	if cfg.AMQPEnabled {
		a.Consumer = broker.NewConsumer(cfg, broker.NewDispatcher(rewardService))
		a.closers = append(a.closers, a.Consumer.Close)
	}

	// === 7. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(rewardService, ledgerService)

	if !cfg.AdminEnabled() {
		log.Warn("ADMIN_KEY_HASH не задан, админ-операции отключены")
	}
	return a, nil
}

// Run запускает планировщик, потребителя и HTTP API и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx, a.Config.RewardRetrySchedule, a.Config.AuditSchedule); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	var wg sync.WaitGroup
	if a.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Consumer.Run(ctx)
		}()
	}

	err := a.Server.Run(ctx)
	wg.Wait()
	return err
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openStorage(ctx context.Context, cfg *config.Config, lc ledger.LevelComputer) (*storage, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DBSQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.DBSQLitePath).Info("Встроенный режим: SQLite")
		return &storage{
			store:    ledger.NewSQLiteRepository(db, lc),
			queue:    rewards.NewMemoryQueue(),
			attempts: admin.NewMemoryAttempts(),
			health:   func(ctx context.Context) error { return db.PingContext(ctx) },
			close:    func() { closeSQLite(db) },
		}, nil

	default:
		pool, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &storage{
			store:    ledger.NewPostgresRepository(pool, lc),
			queue:    rewards.NewPostgresQueue(pool),
			attempts: admin.NewPostgresAttempts(pool),
			health:   pool.Ping,
			close:    pool.Close,
		}, nil
	}
}

// OpenPostgres подключается к PostgreSQL и применяет миграции.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	return pool, nil
}

func closeSQLite(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия SQLite")
	}
}
