package session

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestJar_MirrorsCookiesIntoStore(t *testing.T) {
	store := NewStore()
	jar, err := NewJar(store)
	require.NoError(t, err)

	jar.SetCookies(mustParse(t, "http://localhost:5000/login"), []*http.Cookie{{Name: "session", Value: "abc", Path: "/"}})

	origin, cookies := store.Cookies()
	assert.Equal(t, "http://localhost:5000/", origin)
	assert.Equal(t, []Cookie{{Name: "session", Value: "abc"}}, cookies)

	got := jar.Cookies(mustParse(t, "http://localhost:5000/course_class_chat"))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Value)
}

func TestJar_SeededFromStore(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.SaveCookies(store.Generation(), "http://localhost:5000/", []Cookie{{Name: "session", Value: "persisted"}}))

	jar, err := NewJar(store)
	require.NoError(t, err)

	got := jar.Cookies(mustParse(t, "http://localhost:5000/profile"))
	require.Len(t, got, 1)
	assert.Equal(t, "persisted", got[0].Value)
	assert.Empty(t, jar.Cookies(mustParse(t, "http://other.example/profile")))
}

func TestJar_ForgetsCookiesAfterInvalidate(t *testing.T) {
	store := NewStore()
	jar, err := NewJar(store)
	require.NoError(t, err)

	u := mustParse(t, "http://localhost:5000/login")
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc", Path: "/"}})
	require.Len(t, jar.Cookies(u), 1)

	store.Invalidate()
	assert.Empty(t, jar.Cookies(u))

	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "next", Path: "/"}})
	_, cookies := store.Cookies()
	assert.Equal(t, []Cookie{{Name: "session", Value: "next"}}, cookies)
}
