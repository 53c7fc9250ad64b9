// Package common — errors.go определяет ошибки, которые используются во всех
// модулях движка. Обработчики различают их через errors.Is / errors.As
// и отдают клиенту понятный код ответа.
package common

import (
	"errors"
	"fmt"
)

// Ошибки счетов и транзакций
var (
	// ErrAccountNotFound — счёт не найден
	ErrAccountNotFound = errors.New("счёт не найден")
	// ErrInsufficientCredits — на счёте недостаточно кредитов для списания
	ErrInsufficientCredits = errors.New("недостаточно кредитов на счёте")
	// ErrInvalidIdentifier — идентификатор не прошёл проверку формата
	ErrInvalidIdentifier = errors.New("некорректный идентификатор")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidKind — неизвестный вид транзакции
	ErrInvalidKind = errors.New("неизвестный вид транзакции")
	// ErrInvalidCategory — неизвестная категория транзакции
	ErrInvalidCategory = errors.New("неизвестная категория транзакции")
	// ErrDuplicateReference — часть пачки уже записана, а часть нет.
	// Повтор одиночного запроса или всей пачки считается успехом и этой ошибки не даёт.
	ErrDuplicateReference = errors.New("транзакция с таким ключом уже существует")
	// ErrTransactionNotFound — транзакции с таким ключом нет
	ErrTransactionNotFound = errors.New("транзакция не найдена")
)

// Ошибки хранилища
var (
	// ErrStorageUnavailable — временный сбой хранилища, запрос можно повторить
	ErrStorageUnavailable = errors.New("хранилище временно недоступно")
)

// Ошибки покупок и наград
var (
	// ErrAlreadyPurchased — покупатель уже купил этот ресурс
	ErrAlreadyPurchased = errors.New("ресурс уже куплен")
	// ErrSelfPurchase — попытка купить собственный ресурс
	ErrSelfPurchase = errors.New("нельзя покупать собственный ресурс")
	// ErrSelfReferral — попытка пригласить самого себя
	ErrSelfReferral = errors.New("нельзя пригласить самого себя")
	// ErrPurchaseNotFound — покупка не найдена
	ErrPurchaseNotFound = errors.New("покупка не найдена")
)

// Ошибки админки
var (
	// ErrNotAdmin — неверный ключ администратора
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrAdminDisabled — хеш ключа администратора не настроен
	ErrAdminDisabled = errors.New("админ-операции отключены")
)

// InsufficientCreditsError содержит подробности отказа в списании.
// errors.Is(err, ErrInsufficientCredits) для неё возвращает true.
type InsufficientCreditsError struct {
	AccountID string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("недостаточно кредитов на счёте %s: нужно %d, есть %d",
		e.AccountID, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// StorageError оборачивает ошибку драйвера как ErrStorageUnavailable,
// сохраняя исходную причину для errors.As.
//
// Пример:
//
//	return common.StorageError("ошибка записи транзакции", err)
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsRetryable сообщает, можно ли безопасно повторить операцию.
// Повтор безопасен благодаря идемпотентности ключей транзакций.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError сообщает, что ошибка вызвана запросом, а не сбоем.
// Такие ошибки не повторяются и не ставятся в очередь.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrAlreadyPurchased),
		errors.Is(err, ErrDuplicateReference),
		errors.Is(err, ErrSelfPurchase),
		errors.Is(err, ErrSelfReferral):
		return true
	}
	return false
}
