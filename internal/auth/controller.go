package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"veganrecipes/client/internal/apiclient"
	"veganrecipes/client/internal/cache"
	"veganrecipes/client/internal/logging"
	"veganrecipes/client/internal/session"
	"veganrecipes/client/internal/state"
)

const profileCacheKey = "profile:me"

const defaultProfileCacheTTL = 5 * time.Minute

// Controller — фасад аутентификации для вызывающего кода.
// Он единственный владелец значения "текущий пользователь" в памяти:
// ни executor, ни вызывающий код не изменяют это значение напрямую.
type Controller struct {
	api      *apiclient.Client
	sessions *session.Store
	logger   *logging.Logger
	profiles *cache.Cache[*state.Profile]
	ttl      time.Duration

	mu      sync.RWMutex
	current *state.User
}

// Options позволяет переопределить зависимости контроллера.
type Options struct {
	ProfileCacheTTL time.Duration
	Now             func() time.Time
}

// NewController создаёт Controller и восстанавливает кэшированного
// пользователя из персистентной сессии, если он там сохранён.
func NewController(api *apiclient.Client, sessions *session.Store, logger *logging.Logger, opts Options) *Controller {
	ttl := opts.ProfileCacheTTL
	if ttl <= 0 {
		ttl = defaultProfileCacheTTL
	}
	c := &Controller{
		api:      api,
		sessions: sessions,
		logger:   logger,
		profiles: cache.New[*state.Profile](cache.Options{Now: opts.Now}),
		ttl:      ttl,
	}
	if cached := sessions.CachedUser(); cached != nil {
		c.current = cached
		logger.Debugf("restored cached user %s from session", cached.Username)
	}
	return c
}

// CurrentUser возвращает текущего пользователя или nil,
// если сессия не аутентифицирована.
func (c *Controller) CurrentUser() *state.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Login аутентифицирует пользователя по имени или email.
// На 401 возвращает ошибку с сообщением о неверных учётных данных,
// токены при этом не сохраняются.
func (c *Controller) Login(ctx context.Context, identifier, password string) (*state.User, error) {
	const op = "Login"
	raw, err := c.api.Do(ctx, op, apiclient.Request{
		Method: http.MethodPost,
		Path:   apiclient.PathLogin,
		Body:   apiclient.LoginRequest{Identifier: identifier, Password: password},
	})
	if err != nil {
		c.logger.Errorf("%s failed for %q: %v", op, identifier, err)
		return nil, buildLoginError(err)
	}

	var payload apiclient.AuthResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Errorf("%s: decode response: %v", op, err)
		return nil, &Error{Kind: state.ErrorKindServerError, Message: msgLoginGeneric, Err: err}
	}
	if payload.Access != "" || payload.Refresh != "" {
		if err := c.sessions.SetTokens(state.TokenPair{Access: payload.Access, Refresh: payload.Refresh}); err != nil {
			c.logger.Errorf("%s: persist tokens: %v", op, err)
		}
	}

	user, err := payload.User.Validate()
	if err != nil {
		// backend не вернул пользователя в теле — добираем отдельным запросом
		user = c.GetCurrentUser(ctx)
		if user == nil {
			return nil, &Error{Kind: state.ErrorKindServerError, Message: msgLoginGeneric, Err: err}
		}
		return user, nil
	}
	c.adoptUser(op, user)
	c.logger.Infof("%s succeeded for user %s", op, user.Username)
	if expires := c.sessions.AccessExpiresAt(); !expires.IsZero() {
		c.logger.Debugf("access token expires at %s", expires.Format(time.RFC3339))
	}
	return user, nil
}

// Register создаёт аккаунт. Пробелы по краям имени пользователя обрезаются,
// внутренние сохраняются. Ошибки валидации формы транслируются с приоритетом
// username > email > password > error > detail.
func (c *Controller) Register(ctx context.Context, username, email, password string) (*state.User, error) {
	const op = "Register"
	username = strings.TrimSpace(username)
	raw, err := c.api.Do(ctx, op, apiclient.Request{
		Method: http.MethodPost,
		Path:   apiclient.PathRegister,
		Body:   apiclient.RegisterRequest{Username: username, Email: email, Password: password},
	})
	if err != nil {
		c.logger.Errorf("%s failed for %q: %v", op, username, err)
		return nil, buildRegisterError(err)
	}

	var payload apiclient.AuthResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Errorf("%s: decode response: %v", op, err)
		return nil, &Error{Kind: state.ErrorKindServerError, Message: msgRegisterGeneric, Err: err}
	}
	if payload.Access != "" || payload.Refresh != "" {
		if err := c.sessions.SetTokens(state.TokenPair{Access: payload.Access, Refresh: payload.Refresh}); err != nil {
			c.logger.Errorf("%s: persist tokens: %v", op, err)
		}
	}

	user, err := payload.User.Validate()
	if err != nil {
		user = c.GetCurrentUser(ctx)
		if user == nil {
			return nil, &Error{Kind: state.ErrorKindServerError, Message: msgRegisterGeneric, Err: err}
		}
		return user, nil
	}
	c.adoptUser(op, user)
	c.logger.Infof("%s succeeded for user %s", op, user.Username)
	return user, nil
}

// Logout завершает сессию. Сетевой вызов выполняется по возможности,
// но локальная очистка происходит безусловно: пользователь никогда не
// остаётся "залогиненным" из-за недоступного backend.
func (c *Controller) Logout(ctx context.Context) {
	const op = "Logout"
	if _, err := c.api.Do(ctx, op, apiclient.Request{
		Method: http.MethodPost,
		Path:   apiclient.PathLogout,
	}); err != nil {
		c.logger.Errorf("%s request failed, clearing local state anyway: %v", op, err)
	}
	if err := c.sessions.Clear(); err != nil {
		c.logger.Errorf("%s: clear session store: %v", op, err)
	}
	c.api.Tokens().ExpireSessionCookies()
	c.profiles.Invalidate("")
	c.setCurrent(nil)
	c.logger.Infof("%s completed, local state cleared", op)
}

// GetCurrentUser запрашивает пользователя с эндпоинта /api/auth/me/.
// Терминальный 401 — штатный признак "не залогинен": возвращается nil без
// ошибки, а текущий пользователь сбрасывается. Сетевые сбои также
// деградируют до nil, но не трогают значение в памяти.
func (c *Controller) GetCurrentUser(ctx context.Context) *state.User {
	const op = "GetCurrentUser"
	raw, err := c.api.Do(ctx, op, apiclient.Request{
		Method: http.MethodGet,
		Path:   apiclient.PathMe,
	})
	if err != nil {
		if kind := errorKind(err); kind == state.ErrorKindUnauthorized {
			c.logger.Debugf("%s: unauthenticated", op)
			c.setCurrent(nil)
			return nil
		}
		c.logger.Errorf("%s failed: %v", op, err)
		return nil
	}

	var dto apiclient.UserDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		c.logger.Errorf("%s: decode response: %v", op, err)
		return nil
	}
	user, err := dto.Validate()
	if err != nil {
		c.logger.Errorf("%s: invalid user payload: %v", op, err)
		return nil
	}
	c.adoptUser(op, user)
	return user
}

// UpdateUserData повторно запрашивает текущего пользователя и обновляет
// значение в памяти. Ошибки не пробрасываются: результат — признак успеха.
func (c *Controller) UpdateUserData(ctx context.Context) bool {
	return c.GetCurrentUser(ctx) != nil
}

// Profile возвращает расширенный профиль, используя кэш с ограниченным TTL.
func (c *Controller) Profile(ctx context.Context) (*state.Profile, error) {
	const op = "Profile"
	if cached, ok := c.profiles.Get(profileCacheKey); ok {
		return cached, nil
	}
	raw, err := c.api.Do(ctx, op, apiclient.Request{
		Method: http.MethodGet,
		Path:   apiclient.PathUserProfile,
	})
	if err != nil {
		c.logger.Errorf("%s failed: %v", op, err)
		return nil, buildWriteError(err, msgProfileGeneric)
	}
	var dto apiclient.ProfileDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, &Error{Kind: state.ErrorKindServerError, Message: msgProfileGeneric, Err: err}
	}
	profile := dto.Validate()
	c.profiles.Set(profileCacheKey, profile, c.ttl)
	return profile, nil
}

// ProfileUpdate описывает изменяемые поля профиля.
type ProfileUpdate struct {
	Bio      string
	Location string
	Website  string
}

// UpdateProfile отправляет изменённый профиль вместе с необязательным
// изображением как multipart-форму и сбрасывает кэш профиля.
func (c *Controller) UpdateProfile(ctx context.Context, update ProfileUpdate, imageName string, image []byte) (*state.Profile, error) {
	const op = "UpdateProfile"
	fields := map[string]string{
		"bio":      update.Bio,
		"location": update.Location,
		"website":  update.Website,
	}
	payload, err := apiclient.BuildMultipart(fields, "profileImage", imageName, image)
	if err != nil {
		return nil, &Error{Kind: state.ErrorKindUnknown, Message: msgProfileGeneric, Err: err}
	}
	raw, err := c.api.Do(ctx, op, apiclient.Request{
		Method:    http.MethodPut,
		Path:      apiclient.PathUserProfile,
		Multipart: payload,
	})
	if err != nil {
		c.logger.Errorf("%s failed: %v", op, err)
		return nil, buildWriteError(err, msgProfileGeneric)
	}
	c.profiles.Invalidate(profileCacheKey)
	if raw == nil {
		return nil, nil
	}
	var dto apiclient.ProfileDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, &Error{Kind: state.ErrorKindServerError, Message: msgProfileGeneric, Err: err}
	}
	return dto.Validate(), nil
}

// adoptUser сохраняет пользователя в памяти и в персистентной сессии.
func (c *Controller) adoptUser(op string, user *state.User) {
	c.setCurrent(user)
	if err := c.sessions.SetUser(user); err != nil {
		c.logger.Errorf("%s: cache user in session store: %v", op, err)
	}
}

func (c *Controller) setCurrent(user *state.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = user
}

func errorKind(err error) state.ErrorKind {
	var aErr *apiclient.Error
	if errors.As(err, &aErr) {
		return aErr.Kind
	}
	return state.ErrorKindUnknown
}
