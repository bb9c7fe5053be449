package csrf

import (
	"net/http"
	"net/url"
	"strings"

	"veganrecipes/client/internal/logging"
)

const (
	// CookieName — cookie, в которой backend выдаёт anti-forgery токен.
	CookieName = "csrftoken"
	// SessionCookieName — cookie серверной сессии, гасится при выходе.
	SessionCookieName = "sessionid"
	// HeaderName — заголовок, в котором токен отправляется на backend.
	HeaderName = "X-CSRFToken"

	// TokenLength — каноническая длина токена, которую всегда выдаёт backend.
	TokenLength = 64
	fillerByte  = 'X'
)

// Store читает anti-forgery токен из cookie jar клиента.
// Запись токена не публикуется: cookie выставляет backend в ответ
// на запрос выдачи токена.
type Store struct {
	jar     http.CookieJar
	baseURL *url.URL
	logger  *logging.Logger
}

// NewStore создаёт Store поверх указанного cookie jar.
func NewStore(jar http.CookieJar, baseURL *url.URL, logger *logging.Logger) *Store {
	return &Store{jar: jar, baseURL: baseURL, logger: logger}
}

// Read возвращает нормализованный токен из cookie jar или пустую строку,
// если cookie отсутствует либо jar недоступен.
func (s *Store) Read() string {
	if s == nil || s.jar == nil || s.baseURL == nil {
		return ""
	}
	for _, cookie := range s.jar.Cookies(s.baseURL) {
		if cookie.Name != CookieName {
			continue
		}
		value := strings.TrimSpace(cookie.Value)
		if value == "" {
			return ""
		}
		normalized := Normalize(value)
		if normalized != value && s.logger != nil {
			s.logger.Errorf("csrf cookie has length %d, normalized to %d", len(value), TokenLength)
		}
		return normalized
	}
	return ""
}

// ExpireSessionCookies гасит sessionid и csrftoken на стороне клиента.
// Вызывается при выходе независимо от результата сетевого запроса.
func (s *Store) ExpireSessionCookies() {
	if s == nil || s.jar == nil || s.baseURL == nil {
		return
	}
	expired := []*http.Cookie{
		{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1},
		{Name: CookieName, Value: "", Path: "/", MaxAge: -1},
	}
	s.jar.SetCookies(s.baseURL, expired)
}

// Normalize приводит значение токена к канонической длине 64:
// более короткие значения дополняются справа символом-заполнителем,
// более длинные усекаются. Backend всегда выдаёт 64-символьные токены,
// поэтому нормализация срабатывает только на повреждённых cookie.
func Normalize(value string) string {
	if len(value) == TokenLength {
		return value
	}
	if len(value) > TokenLength {
		return value[:TokenLength]
	}
	var b strings.Builder
	b.Grow(TokenLength)
	b.WriteString(value)
	for b.Len() < TokenLength {
		b.WriteByte(fillerByte)
	}
	return b.String()
}
