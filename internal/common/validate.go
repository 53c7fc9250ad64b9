package common

import (
	"fmt"
	"regexp"
)

// identifierPattern — допустимый формат идентификаторов счетов и ресурсов.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

// MaxReferenceKeyLength — максимальная длина ключа идемпотентности.
const MaxReferenceKeyLength = 200

// ValidateIdentifier проверяет формат идентификатора.
// field попадает в текст ошибки, чтобы клиент понял, какое поле неверно.
func ValidateIdentifier(field, value string) error {
	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("%w: %s=%q", ErrInvalidIdentifier, field, value)
	}
	return nil
}

// ValidateReferenceKey проверяет ключ идемпотентности транзакции.
func ValidateReferenceKey(key string) error {
	if key == "" || len(key) > MaxReferenceKeyLength {
		return fmt.Errorf("%w: reference_key должен быть от 1 до %d символов",
			ErrInvalidIdentifier, MaxReferenceKeyLength)
	}
	return nil
}
