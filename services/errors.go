package services

import (
	"errors"
	"strings"
)

// Ошибки сервиса долгов. Контроллеры сопоставляют их с HTTP-кодами через errors.Is.
var (
	// ErrNotFound - записи нет или она принадлежит другому пользователю
	ErrNotFound = errors.New("запись не найдена")
	// ErrValidation - некорректные входные данные
	ErrValidation = errors.New("ошибка валидации")
	// ErrConcurrentUpdate - запись изменилась параллельно, можно повторить запрос
	ErrConcurrentUpdate = errors.New("запись изменена параллельно")
)

// FieldError описывает ошибку одного поля
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError содержит все ошибки полей запроса
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Is позволяет проверять errors.Is(err, ErrValidation)
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
