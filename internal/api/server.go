// Package api собирает HTTP API движка: маршрутизатор chi, общие middleware,
// /metrics и /healthz. Обработчики фич монтируются под /api/v1.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/api/middleware"
	"serotonyl.ru/credit-engine/internal/api/respond"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/metrics"
)

// shutdownTimeout — сколько ждать завершения активных запросов при остановке.
const shutdownTimeout = 10 * time.Second

// Routable — обработчик фичи, регистрирующий свои маршруты.
type Routable interface {
	Routes(r chi.Router)
}

// HealthFunc проверяет доступность хранилища.
type HealthFunc func(ctx context.Context) error

// Server — HTTP-сервер движка.
type Server struct {
	srv     *http.Server
	limiter *middleware.RateLimiter
}

// NewServer собирает маршрутизатор.
func NewServer(cfg *config.Config, health HealthFunc, features ...Routable) *Server {
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Admin-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(health))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Use(chimw.AllowContentType("application/json"))
		for _, f := range features {
			f.Routes(r)
		}
	})

	return &Server{
		srv: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
		},
		limiter: limiter,
	}
}

// Handler возвращает корневой обработчик (для тестов).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run слушает адрес до отмены ctx, затем плавно останавливается.
func (s *Server) Run(ctx context.Context) error {
	defer s.limiter.Close()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("HTTP API запущен")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP-сервера: %w", err)
	}
	log.Info("HTTP API остановлен")
	return nil
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if health != nil {
			if err := health(ctx); err != nil {
				log.WithError(err).Warn("Проверка здоровья не пройдена")
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
