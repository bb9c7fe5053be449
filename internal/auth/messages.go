package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veganrecipes/client/internal/apiclient"
	"veganrecipes/client/internal/state"
)

// Сообщения, которые форма показывает пользователю.
const (
	msgInvalidCredentials = "Неверный логин или пароль"
	msgNetwork            = "Не удалось подключиться к серверу"
	msgTimeout            = "Истекло время ожидания ответа сервера"
	msgLoginGeneric       = "Не удалось выполнить вход"
	msgRegisterGeneric    = "Не удалось создать аккаунт"
	msgProfileGeneric     = "Не удалось обновить профиль"
)

// Шаблоны для ошибок отдельных полей формы регистрации.
var fieldErrorTemplates = map[string]string{
	"username": "Ошибка имени пользователя: %s",
	"email":    "Ошибка email: %s",
	"password": "Ошибка пароля: %s",
}

// fieldPriority задаёт порядок, в котором выбирается сообщение
// при нескольких ошибках валидации одновременно.
var fieldPriority = []string{"username", "email", "password"}

// Error описывает ошибку операции аутентификации с сообщением для пользователя.
type Error struct {
	Kind    state.ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// buildLoginError переводит ошибку executor в ошибку входа.
func buildLoginError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgTimeout, Err: err}
	}
	var aErr *apiclient.Error
	if errors.As(err, &aErr) {
		if aErr.Status == 401 {
			return &Error{Kind: state.ErrorKindAuthFailed, Message: msgInvalidCredentials, Err: err}
		}
		if aErr.Status > 0 {
			if msg := backendMessage(aErr.Body); msg != "" {
				return &Error{Kind: aErr.Kind, Message: msg, Err: err}
			}
			return &Error{Kind: aErr.Kind, Message: fmt.Sprintf("%s (код %d)", msgLoginGeneric, aErr.Status), Err: err}
		}
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgNetwork, Err: err}
	}
	return &Error{Kind: state.ErrorKindUnknown, Message: msgLoginGeneric, Err: err}
}

// buildRegisterError переводит ошибку executor в ошибку регистрации,
// выбирая сообщение по приоритету username > email > password > error > detail.
func buildRegisterError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgTimeout, Err: err}
	}
	var aErr *apiclient.Error
	if errors.As(err, &aErr) {
		if aErr.Status > 0 {
			if msg := registerFailureMessage(aErr.Body); msg != "" {
				return &Error{Kind: state.ErrorKindValidationFailed, Message: msg, Err: err}
			}
			return &Error{Kind: aErr.Kind, Message: fmt.Sprintf("%s (код %d)", msgRegisterGeneric, aErr.Status), Err: err}
		}
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgNetwork, Err: err}
	}
	return &Error{Kind: state.ErrorKindUnknown, Message: msgRegisterGeneric, Err: err}
}

// buildWriteError переводит ошибку executor в ошибку произвольной мутации.
func buildWriteError(err error, fallback string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgTimeout, Err: err}
	}
	var aErr *apiclient.Error
	if errors.As(err, &aErr) {
		if aErr.Status > 0 {
			if msg := backendMessage(aErr.Body); msg != "" {
				return &Error{Kind: aErr.Kind, Message: msg, Err: err}
			}
			return &Error{Kind: aErr.Kind, Message: fmt.Sprintf("%s (код %d)", fallback, aErr.Status), Err: err}
		}
		return &Error{Kind: state.ErrorKindNetworkUnavailable, Message: msgNetwork, Err: err}
	}
	return &Error{Kind: state.ErrorKindUnknown, Message: fallback, Err: err}
}

// registerFailureMessage извлекает из тела ответа backend сообщение
// о невалидном поле формы регистрации.
func registerFailureMessage(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, field := range fieldPriority {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		if msg := firstMessage(raw); msg != "" {
			return fmt.Sprintf(fieldErrorTemplates[field], msg)
		}
	}
	for _, field := range []string{"error", "detail"} {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		if msg := firstMessage(raw); msg != "" {
			return msg
		}
	}
	return ""
}

// backendMessage возвращает общее сообщение из полей error или detail.
func backendMessage(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, field := range []string{"error", "detail"} {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		if msg := firstMessage(raw); msg != "" {
			return msg
		}
	}
	return ""
}

// firstMessage принимает строку либо массив строк и возвращает первое значение.
func firstMessage(raw json.RawMessage) string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
