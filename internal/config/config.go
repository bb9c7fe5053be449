package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrConfigFailed обозначает любую проблему с чтением или разбором config.yaml.
var ErrConfigFailed = errors.New("config: failed to load")

// DefaultAPIBaseURL используется, когда адрес API не задан ни в файле, ни в окружении.
const DefaultAPIBaseURL = "https://api.veganrecipes.app"

const defaultRequestTimeout = 15 * time.Second

// Config описывает пользовательские настройки клиента и вычисляемые пути.
type Config struct {
	APIBaseURL            string `yaml:"api_url" envconfig:"API_URL"`
	LogLevel              string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFile               string `yaml:"log_file" envconfig:"LOG_FILE"`
	SessionFile           string `yaml:"session_file" envconfig:"SESSION_FILE"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" envconfig:"REQUEST_TIMEOUT_SECONDS"`

	AppDir string `yaml:"-" envconfig:"-"`
}

// RequestTimeout возвращает таймаут одного сетевого запроса.
func (c *Config) RequestTimeout() time.Duration {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Error содержит дополнительный контекст при неудачной загрузке конфигурации.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ErrConfigFailed.Error()
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfigFailed, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// envPrefix — общий префикс переменных окружения (VEGANAPP_API_URL и т.д.).
const envPrefix = "veganapp"

// DetectAppDir возвращает каталог, в котором находится исполняемый файл.
func DetectAppDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("detect executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exePath)
	if err == nil {
		exePath = resolved
	}
	return filepath.Dir(exePath), nil
}

// DefaultPath возвращает путь к config.yaml относительно каталога приложения.
func DefaultPath(appDir string) string {
	return filepath.Join(appDir, "config.yaml")
}

// Load читает YAML конфигурации, накладывает переменные окружения и валидирует результат.
// Отсутствующий файл не считается ошибкой: остаются значения по умолчанию и окружение.
func Load(path string, appDir string) (*Config, error) {
	if appDir == "" {
		return nil, &Error{Path: path, Err: errors.New("app directory is empty")}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, &Error{Path: path, Err: err}
			}
		case os.IsNotExist(err):
			// работаем на значениях по умолчанию
		default:
			return nil, &Error{Path: path, Err: err}
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	cfg.AppDir = appDir
	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)
	cfg.applyDefaults()
	cfg.applyAppDir()
	if err := cfg.validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if err := cfg.ensureDirectories(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if strings.TrimSpace(c.LogFile) == "" {
		c.LogFile = filepath.Join("logs", "client.log")
	}
	if strings.TrimSpace(c.SessionFile) == "" {
		c.SessionFile = "session.json"
	}
}

func (c *Config) applyAppDir() {
	if c.AppDir == "" {
		return
	}
	c.AppDir = filepath.Clean(c.AppDir)
	c.LogFile = makeAbsolute(c.LogFile, c.AppDir)
	c.SessionFile = makeAbsolute(c.SessionFile, c.AppDir)
}

func (c *Config) validate() error {
	switch {
	case c.APIBaseURL == "":
		return errors.New("api_url is required")
	case c.AppDir == "":
		return errors.New("app directory is unknown")
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid api_url %q: %w", c.APIBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api_url %q must use http or https", c.APIBaseURL)
	}
	if _, ok := allowedLevels[c.LogLevel]; !ok {
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

func (c *Config) ensureDirectories() error {
	paths := []string{filepath.Dir(c.LogFile), filepath.Dir(c.SessionFile)}
	for _, dir := range paths {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func makeAbsolute(path string, base string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if base == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func normalizeLogLevel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "info"
	}
	return value
}

var allowedLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"error": {},
}
