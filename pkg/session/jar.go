package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Jar is an http.CookieJar backed by a Store. Cookies received from the
// backend are mirrored into the store, and the jar forgets every cookie
// once the store is invalidated.
type Jar struct {
	store *Store

	mu         sync.Mutex
	jar        *cookiejar.Jar
	generation uint64
}

// NewJar creates a jar seeded with the cookies persisted in store.
func NewJar(store *Store) (*Jar, error) {
	j := &Jar{store: store}
	if err := j.reset(); err != nil {
		return nil, err
	}
	return j, nil
}

// SetCookies implements http.CookieJar
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	j.syncLocked()
	j.jar.SetCookies(u, cookies)
	generation := j.generation
	origin := originOf(u)
	current := j.jar.Cookies(origin)
	j.mu.Unlock()

	persisted := make([]Cookie, 0, len(current))
	for _, c := range current {
		persisted = append(persisted, Cookie{Name: c.Name, Value: c.Value})
	}
	if err := j.store.SaveCookies(generation, origin.String(), persisted); err != nil {
		j.store.logger.Warn("failed to persist session cookies", "error", err.Error())
	}
}

// Cookies implements http.CookieJar
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.syncLocked()
	return j.jar.Cookies(u)
}

func (j *Jar) syncLocked() {
	if j.store.Generation() == j.generation {
		return
	}
	if err := j.resetLocked(); err != nil {
		j.store.logger.Warn("failed to reset cookie jar", "error", err.Error())
	}
}

func (j *Jar) reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resetLocked()
}

func (j *Jar) resetLocked() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	j.generation = j.store.Generation()
	origin, cookies := j.store.Cookies()
	if origin != "" && len(cookies) > 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("invalid session origin %q: %w", origin, err)
		}
		seed := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			seed = append(seed, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
		}
		jar.SetCookies(u, seed)
	}
	j.jar = jar
	return nil
}

func originOf(u *url.URL) *url.URL {
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}
