package csrf

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Тесты нормализации длины токена.

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{
			name:  "short value is right-padded",
			value: "abc",
			want:  "abc" + strings.Repeat("X", 61),
		},
		{
			name:  "canonical value passes through",
			value: strings.Repeat("a", 64),
			want:  strings.Repeat("a", 64),
		},
		{
			name:  "long value is truncated",
			value: strings.Repeat("b", 70),
			want:  strings.Repeat("b", 64),
		},
		{
			name:  "single char",
			value: "z",
			want:  "z" + strings.Repeat("X", 63),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.value)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, TokenLength)
		})
	}
}

func TestStoreRead(t *testing.T) {
	base, err := url.Parse("https://api.example.com")
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	store := NewStore(jar, base, nil)

	// Пустой jar — пустой токен.
	assert.Empty(t, store.Read())

	jar.SetCookies(base, []*http.Cookie{{Name: CookieName, Value: "abc", Path: "/"}})
	got := store.Read()
	assert.Equal(t, "abc"+strings.Repeat("X", 61), got)

	canonical := strings.Repeat("c", 64)
	jar.SetCookies(base, []*http.Cookie{{Name: CookieName, Value: canonical, Path: "/"}})
	assert.Equal(t, canonical, store.Read())
}

func TestStoreReadWithoutJar(t *testing.T) {
	store := NewStore(nil, nil, nil)
	assert.Empty(t, store.Read())

	var nilStore *Store
	assert.Empty(t, nilStore.Read())
}

func TestExpireSessionCookies(t *testing.T) {
	base, err := url.Parse("https://api.example.com")
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{
		{Name: CookieName, Value: strings.Repeat("a", 64), Path: "/"},
		{Name: SessionCookieName, Value: "session-value", Path: "/"},
	})
	store := NewStore(jar, base, nil)
	require.NotEmpty(t, store.Read())

	store.ExpireSessionCookies()

	assert.Empty(t, store.Read())
	for _, cookie := range jar.Cookies(base) {
		assert.NotEqual(t, SessionCookieName, cookie.Name)
		assert.NotEqual(t, CookieName, cookie.Name)
	}
}
