package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"

	"veganrecipes/client/internal/csrf"
	"veganrecipes/client/internal/logging"
	"veganrecipes/client/internal/session"
	"veganrecipes/client/internal/state"
)

// Client инкапсулирует HTTP-взаимодействия с backend рецептов.
// Все запросы идут через общий cookie jar (credentialed mode),
// поэтому серверные cookie (sessionid, csrftoken) доступны между вызовами.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *logging.Logger
	sessions   *session.Store
	tokens     *csrf.Store
	timeout    time.Duration
}

// Options позволяет переопределить зависимости клиента.
type Options struct {
	HTTPClient *http.Client
	Logger     *logging.Logger
	Timeout    time.Duration
}

const defaultTimeout = 15 * time.Second

// New создаёт новый клиент backend рецептов.
func New(baseURL string, sessions *session.Store, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is empty")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("init cookie jar: %w", err)
		}
		client.Jar = jar
	}
	return &Client{
		baseURL:    parsed,
		httpClient: client,
		logger:     opts.Logger,
		sessions:   sessions,
		tokens:     csrf.NewStore(client.Jar, parsed, opts.Logger),
		timeout:    timeout,
	}, nil
}

// Tokens возвращает хранилище anti-forgery токена поверх cookie jar клиента.
func (c *Client) Tokens() *csrf.Store {
	return c.tokens
}

// Error описывает проблему при запросах к backend.
type Error struct {
	Op     string
	Kind   state.ErrorKind
	Status int
	Body   json.RawMessage
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "api client error"
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request описывает один исходящий вызов: существует только на время
// выполнения Do и нигде не сохраняется.
type Request struct {
	Method    string
	Path      string
	Body      any
	Multipart *MultipartPayload
}

// MultipartPayload содержит закодированную multipart-форму вместе с
// content-type, несущим boundary. Executor не подменяет этот заголовок.
type MultipartPayload struct {
	ContentType string
	Data        []byte
}

// BuildMultipart кодирует поля формы и необязательный файл в multipart-форму.
func BuildMultipart(fields map[string]string, fileField, fileName string, file []byte) (*MultipartPayload, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if fileField != "" && file != nil {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			return nil, fmt.Errorf("create file part %s: %w", fileField, err)
		}
		if _, err := part.Write(file); err != nil {
			return nil, fmt.Errorf("write file part %s: %w", fileField, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}
	return &MultipartPayload{ContentType: writer.FormDataContentType(), Data: buf.Bytes()}, nil
}

// Do выполняет запрос по схеме:
// для мутирующих методов сначала получает anti-forgery токен, прикладывает
// заголовки и отправляет; на 401 при наличии refresh-токена выполняет ровно
// одну попытку обновления access-токена с повтором исходного запроса.
// 204 превращается в nil-результат, прочие 2xx — в сырое JSON-тело.
func (c *Client) Do(ctx context.Context, op string, req Request) (json.RawMessage, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, wrapError(op, state.ErrorKindUnknown, err)
	}

	// Мутирующие методы всегда получают свежий токен по сети;
	// GET ограничивается чтением cookie без сетевого запроса.
	var csrfToken string
	if isMutating(req.Method) {
		csrfToken = c.FetchCSRFToken(ctx)
	} else {
		csrfToken = c.tokens.Read()
	}

	status, raw, err := c.send(ctx, op, req.Method, req.Path, body, contentType, csrfToken, c.sessions.Access())
	if err != nil {
		return nil, wrapError(op, state.ErrorKindNetworkUnavailable, err)
	}

	if status == http.StatusUnauthorized {
		if c.sessions.Refresh() == "" {
			return nil, &Error{Op: op, Kind: state.ErrorKindUnauthorized, Status: status, Body: raw, Err: errors.New("unauthorized")}
		}
		if refreshErr := c.refreshAccess(ctx); refreshErr != nil {
			c.logger.Errorf("%s: token refresh failed: %v", op, refreshErr)
			c.clearSession(op)
			return nil, &Error{Op: op, Kind: state.ErrorKindUnauthorized, Status: status, Body: raw, Err: errors.New("unauthorized")}
		}
		status, raw, err = c.send(ctx, op, req.Method, req.Path, body, contentType, csrfToken, c.sessions.Access())
		if err != nil {
			return nil, wrapError(op, state.ErrorKindNetworkUnavailable, err)
		}
		if status == http.StatusUnauthorized {
			// повторный 401 терминален, вторая попытка обновления не выполняется
			c.clearSession(op)
			return nil, &Error{Op: op, Kind: state.ErrorKindUnauthorized, Status: status, Body: raw, Err: errors.New("unauthorized after refresh")}
		}
	}

	switch {
	case status == http.StatusNoContent:
		return nil, nil
	case status >= 200 && status < 300:
		return raw, nil
	default:
		return nil, statusError(op, status, raw)
	}
}

// FetchCSRFToken выполняет один запрос к эндпоинту выдачи anti-forgery токена.
// При любой неудаче возвращает пустую строку и никогда не отдаёт ошибку:
// вызов без заголовка отклонит backend, и это штатный путь деградации.
func (c *Client) FetchCSRFToken(ctx context.Context) string {
	const op = "FetchCSRFToken"
	status, raw, err := c.send(ctx, op, http.MethodGet, PathCSRF, nil, "", "", "")
	if err != nil {
		c.logger.Errorf("%s: request failed: %v", op, err)
		return ""
	}
	if status < 200 || status >= 300 {
		c.logger.Errorf("%s: unexpected status %d", op, status)
		return ""
	}
	var payload CSRFResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.CSRFToken != "" {
		return csrf.Normalize(payload.CSRFToken)
	}
	// backend мог выдать токен только через cookie
	return c.tokens.Read()
}

// refreshAccess обменивает refresh-токен на новый access.
// Выполняется строго последовательно: повтор исходного запроса начинается
// только после завершения обмена.
func (c *Client) refreshAccess(ctx context.Context) error {
	const op = "RefreshAccess"
	refresh := c.sessions.Refresh()
	if refresh == "" {
		return errors.New("refresh token is empty")
	}
	body, err := json.Marshal(RefreshRequest{Refresh: refresh})
	if err != nil {
		return fmt.Errorf("marshal refresh request: %w", err)
	}
	csrfToken := c.FetchCSRFToken(ctx)
	status, raw, err := c.send(ctx, op, http.MethodPost, PathTokenRefresh, body, "application/json", csrfToken, "")
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("unexpected status %d", status)
	}
	var payload RefreshResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.Access == "" {
		return errors.New("empty access token in refresh response")
	}
	return c.sessions.SetTokens(state.TokenPair{Access: payload.Access, Refresh: payload.Refresh})
}

func (c *Client) clearSession(op string) {
	if err := c.sessions.Clear(); err != nil {
		c.logger.Errorf("%s: clear session failed: %v", op, err)
	}
}

// send выполняет один сетевой round-trip и читает тело ответа целиком.
func (c *Client) send(ctx context.Context, op, method, path string, body []byte, contentType, csrfToken, access string) (int, json.RawMessage, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return 0, nil, err
	}
	full := c.baseURL.ResolveReference(rel)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, full.String(), reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if csrfToken != "" {
		req.Header.Set(csrf.HeaderName, csrfToken)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	c.logger.Debugf("%s: %s %s -> %d (request %s)", op, method, full.Path, resp.StatusCode, requestID)
	return resp.StatusCode, raw, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.Multipart != nil {
		return req.Multipart.Data, req.Multipart.ContentType, nil
	}
	if req.Body == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("marshal request body: %w", err)
	}
	return data, "application/json", nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func statusError(op string, status int, body json.RawMessage) error {
	kind := state.ErrorKindServerError
	switch {
	case status == http.StatusUnauthorized:
		kind = state.ErrorKindAuthFailed
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		kind = state.ErrorKindValidationFailed
	}
	return &Error{Op: op, Kind: kind, Status: status, Body: body, Err: fmt.Errorf("unexpected status %d", status)}
}

func wrapError(op string, kind state.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
