package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/api/respond"
)

// Recoverer перехватывает панику обработчика и отвечает 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.WithFields(log.Fields{
				"component": "panic_recovery",
				"panic":     fmt.Sprintf("%v", rec),
				"method":    r.Method,
				"path":      r.URL.Path,
				"stack":     string(debug.Stack()),
			}).Error("ПАНИКА в обработчике — восстановлено")

			respond.JSON(w, http.StatusInternalServerError, respond.ErrorResponse{
				Error:   "internal",
				Message: "внутренняя ошибка",
			})
		}()
		next.ServeHTTP(w, r)
	})
}
