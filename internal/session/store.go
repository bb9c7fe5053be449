package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veganrecipes/client/internal/logging"
	"veganrecipes/client/internal/state"
)

// Store персистентно хранит bearer-токены и кэшированного пользователя.
// Все три значения живут в одном JSON-документе и очищаются вместе:
// частично очищенное состояние не наблюдаемо ни при каком чтении.
type Store struct {
	path   string
	logger *logging.Logger

	mu  sync.RWMutex
	doc document
}

type document struct {
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         *state.User `json:"user,omitempty"`
}

// New создаёт Store и подгружает ранее сохранённую сессию, если она есть.
// Повреждённый файл не считается фатальной ошибкой: сессия начинается пустой.
func New(path string, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session file path is empty")
	}
	s := &Store{path: path, logger: logger}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			logger.Errorf("session file %s is corrupted, starting empty: %v", path, err)
			s.doc = document{}
		}
	case os.IsNotExist(err):
		// первой сессии ещё не было
	default:
		return nil, fmt.Errorf("read session file %s: %w", path, err)
	}
	return s, nil
}

// Access возвращает access-токен или пустую строку.
func (s *Store) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.AccessToken
}

// Refresh возвращает refresh-токен или пустую строку.
func (s *Store) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.RefreshToken
}

// SetTokens сохраняет пару токенов. Пустые значения не затирают существующие:
// backend может вернуть только новый access при обновлении.
func (s *Store) SetTokens(pair state.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pair.Access != "" {
		s.doc.AccessToken = pair.Access
	}
	if pair.Refresh != "" {
		s.doc.RefreshToken = pair.Refresh
	}
	return s.persistLocked()
}

// SetUser сохраняет кэшированную копию пользователя.
func (s *Store) SetUser(user *state.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.User = user
	return s.persistLocked()
}

// CachedUser возвращает сохранённого пользователя, если он есть.
func (s *Store) CachedUser() *state.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.User
}

// Clear удаляет все значения сессии. Операция идемпотентна.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = document{}
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file %s: %w", s.path, err)
	}
	return nil
}

// AccessExpiresAt возвращает срок действия access-токена из его незаверенных
// JWT-claims. Значение используется только для диагностики; при любой ошибке
// разбора возвращается нулевое время.
func (s *Store) AccessExpiresAt() time.Time {
	token := s.Access()
	if token == "" {
		return time.Time{}
	}
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// persistLocked атомарно перезаписывает файл сессии. Вызывать под s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
