package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/credit-engine/internal/app"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/db/sqlite"
	"serotonyl.ru/credit-engine/internal/features/admin"
	"serotonyl.ru/credit-engine/internal/features/ledger"
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, hashKeyCmd, auditCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API, потребителя событий и планировщик",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции схемы и выйти",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key KEY",
	Short: "Сгенерировать Argon2id-хеш ключа администратора",
	Long:  `Печатает хеш ключа; вставьте его в .env как ADMIN_KEY_HASH.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHashKey,
}

var auditCmd = &cobra.Command{
	Use:   "audit [ACCOUNT_ID]",
	Short: "Сверить балансы с журналом",
	Long: `Без аргумента сверяет все счета и печатает только несходящиеся.
Код выхода 2, если найдены расхождения.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func runServe(cmd *cobra.Command, _ []string) error {
	log.Info("=== Движок кредитов запускается ===")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Контекст отменяется по SIGINT/SIGTERM (Ctrl+C, docker stop)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Не удалось инициализировать приложение")
		return err
	}
	defer application.Close()

	log.Info("=== Движок кредитов готов к работе ===")
	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("Движок остановлен с ошибкой")
		return err
	}

	log.Info("=== Движок кредитов остановлен ===")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if cfg.DBDriver == config.DriverSQLite {
		db, err := sqlite.Open(ctx, cfg.DBSQLitePath)
		if err != nil {
			return err
		}
		return db.Close()
	}

	pool, err := app.OpenPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}

func runHashKey(cmd *cobra.Command, args []string) error {
	hash, err := admin.HashKey(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Хеш ключа (вставьте в .env как ADMIN_KEY_HASH):")
	fmt.Fprintln(out, hash)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	var reports []ledger.AuditReport
	if len(args) == 1 {
		report, err := application.Ledger.Audit(ctx, args[0])
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = application.Ledger.AuditAll(ctx)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	inconsistent := 0
	for _, r := range reports {
		status := "OK"
		if !r.Consistent {
			status = "РАСХОЖДЕНИЕ"
			inconsistent++
		}
		fmt.Fprintf(out, "%-32s баланс=%-10d журнал=%-10d %s\n", r.AccountID, r.Balance, r.LedgerSum, status)
	}
	if inconsistent > 0 {
		application.Close()
		os.Exit(2)
	}
	fmt.Fprintln(out, "Расхождений нет")
	return nil
}
