// Package metrics — счётчики Prometheus движка кредитов.
// Все коллекторы регистрируются в собственном реестре Registry,
// который отдаётся по /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credit_engine"

// Результаты применения транзакции
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

var (
	// Registry — реестр коллекторов движка.
	Registry = prometheus.NewRegistry()

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Обработанные запросы на транзакции по виду, категории и результату.",
		},
		[]string{"kind", "category", "result"},
	)

	credits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Сумма проведённых кредитов по виду транзакции.",
		},
		[]string{"kind"},
	)

	levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "level_ups_total",
			Help:      "Количество повышений уровня.",
		},
	)

	rewardRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "retries_total",
			Help:      "Повторные попытки начисления наград из очереди.",
		},
		[]string{"result"},
	)

	rewardQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "queued_total",
			Help:      "Награды, отложенные в очередь после сбоя.",
		},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "settlements_total",
			Help:      "Расчёты покупок по результату.",
		},
		[]string{"result"},
	)

	auditInconsistent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "inconsistent_accounts",
			Help:      "Счета, у которых баланс не совпал с суммой журнала при последней сверке.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Обработанные HTTP-запросы.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		transactions,
		credits,
		levelUps,
		rewardRetries,
		rewardQueued,
		purchases,
		auditInconsistent,
		httpRequests,
		httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTransaction учитывает результат одного запроса к журналу.
func RecordTransaction(kind, category, result string, amount int64) {
	transactions.WithLabelValues(kind, category, result).Inc()
	if result == ResultApplied {
		credits.WithLabelValues(kind).Add(float64(amount))
	}
}

// RecordLevelUp учитывает повышение уровня.
func RecordLevelUp() {
	levelUps.Inc()
}

// RecordRewardQueued учитывает награду, отложенную в очередь.
func RecordRewardQueued() {
	rewardQueued.Inc()
}

// RecordRewardRetry учитывает повторную попытку начисления.
func RecordRewardRetry(result string) {
	rewardRetries.WithLabelValues(result).Inc()
}

// RecordPurchase учитывает расчёт покупки.
func RecordPurchase(result string) {
	purchases.WithLabelValues(result).Inc()
}

// SetAuditInconsistent выставляет число несходящихся счетов.
func SetAuditInconsistent(n int) {
	auditInconsistent.Set(float64(n))
}

// Middleware собирает метрики HTTP по шаблону маршрута chi,
// чтобы ID счетов не попадали в метки.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
