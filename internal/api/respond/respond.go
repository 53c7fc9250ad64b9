// Package respond — JSON-ответы HTTP API и сопоставление ошибок движка
// с кодами ответа.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSON пишет значение data со статусом status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("Ошибка записи JSON-ответа")
	}
}

// Error сопоставляет ошибку с HTTP-статусом и машинным кодом.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func Error(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "5")
		log.WithError(err).Warn("Хранилище недоступно")
	case http.StatusInternalServerError:
		log.WithError(err).Error("Внутренняя ошибка обработчика")
		msg = "внутренняя ошибка"
	}

	JSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// BadRequest отдаёт 400 с кодом invalid_request.
func BadRequest(w http.ResponseWriter, format string, args ...any) {
	JSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: fmt.Sprintf(format, args...),
	})
}

// Decode читает JSON-тело запроса в dst. Неизвестные поля запрещены.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	return nil
}

// QueryInt64 читает целый параметр запроса; def — значение, если параметра нет.
func QueryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return v, nil
}

// QueryBool читает логический параметр запроса.
func QueryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("параметр %s должен быть true или false", name)
	}
	return v, nil
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, common.ErrTransactionNotFound),
		errors.Is(err, common.ErrPurchaseNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, common.ErrAlreadyPurchased):
		return http.StatusConflict, "already_purchased"
	case errors.Is(err, common.ErrDuplicateReference):
		return http.StatusConflict, "duplicate_reference"
	case errors.Is(err, common.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid_identifier"
	case errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInvalidKind),
		errors.Is(err, common.ErrInvalidCategory):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, common.ErrSelfPurchase):
		return http.StatusBadRequest, "self_purchase"
	case errors.Is(err, common.ErrSelfReferral):
		return http.StatusBadRequest, "self_referral"
	case errors.Is(err, common.ErrNotAdmin):
		return http.StatusUnauthorized, "not_admin"
	case errors.Is(err, common.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, common.ErrAdminDisabled):
		return http.StatusForbidden, "admin_disabled"
	case errors.Is(err, common.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
