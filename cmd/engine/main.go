// Package main — точка входа движка кредитов.
// Команды: serve (по умолчанию), migrate, hash-key, audit.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/credit-engine/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "credit-engine",
	Short: "Движок кредитов: журнал, награды, списания и покупки",
	Long: `credit-engine ведёт журнал кредитов платформы: начисляет награды,
списывает оплату скачиваний и сообщений, проводит покупки ресурсов
с комиссией автору и считает уровни пользователей.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	setupLogging()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging настраивает формат логов по умолчанию.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}

// loadConfig загружает конфигурацию и применяет настройки логирования из неё.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.AppLogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.AppLogLevel).Warn("Неизвестный уровень логирования, оставляем debug")
	}
	return cfg, nil
}
