package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// Backend routes used by the auth client.
const (
	LoginPath         = "/login"
	RegisterPath      = "/register"
	LogoutPath        = "/logout"
	ProfilePath       = "/profile"
	ProfileUpdatePath = "/profile/update"
)

// API is the JSON transport used by AuthClient. The Client of pkg/http
// implements it.
type API interface {
	GetJSON(ctx context.Context, path string, out interface{}) error
	PostJSON(ctx context.Context, path string, in, out interface{}) error
	PutJSON(ctx context.Context, path string, in, out interface{}) error
}

// AuthClient signs users in and out and keeps a Store in step with the
// backend session.
type AuthClient struct {
	api    API
	store  *Store
	logger *slog.Logger
}

// NewAuthClient creates an auth client updating store.
func NewAuthClient(api API, store *Store, logger *slog.Logger) *AuthClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AuthClient{api: api, store: store, logger: logger}
}

// Store returns the session store the client updates.
func (a *AuthClient) Store() *Store {
	return a.store
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login signs in and loads the profile of the new session.
func (a *AuthClient) Login(ctx context.Context, username, password string) (*types.User, error) {
	var missing []string
	if strings.TrimSpace(username) == "" {
		missing = append(missing, "username")
	}
	if password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, types.NewValidationError(missing...).WithEndpoint(LoginPath)
	}

	if err := a.api.PostJSON(ctx, LoginPath, credentials{Username: username, Password: password}, nil); err != nil {
		return nil, err
	}

	user, err := a.CheckAuth(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, types.NewStatusError(http.StatusUnauthorized, "login accepted but no session was established").WithEndpoint(ProfilePath)
	}
	a.logger.Info("signed in", slog.String("username", user.Username), slog.String("role", string(user.Role)))
	return user, nil
}

// Register creates an account and signs in with it.
func (a *AuthClient) Register(ctx context.Context, form types.Registration) (*types.User, error) {
	var missing []string
	if strings.TrimSpace(form.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(form.Email) == "" {
		missing = append(missing, "email")
	}
	if form.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, types.NewValidationError(missing...).WithEndpoint(RegisterPath)
	}
	if form.Role != "" && form.Role != types.UserRoleStudent && form.Role != types.UserRoleTeacher {
		e := types.NewValidationError("role")
		e.Message = "role must be student or teacher, got " + string(form.Role)
		return nil, e.WithEndpoint(RegisterPath)
	}

	if err := a.api.PostJSON(ctx, RegisterPath, form, nil); err != nil {
		return nil, err
	}
	return a.Login(ctx, form.Username, form.Password)
}

// CheckAuth loads the profile of the current backend session. An
// authentication failure is not an error: the store is invalidated and
// CheckAuth returns nil, nil.
func (a *AuthClient) CheckAuth(ctx context.Context) (*types.User, error) {
	var user types.User
	if err := a.api.GetJSON(ctx, ProfilePath, &user); err != nil {
		if types.IsAuthError(err) {
			a.store.Invalidate()
			return nil, nil
		}
		return nil, err
	}

	if err := a.store.Set(&user); err != nil {
		a.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
	return &user, nil
}

// Restore re-validates a session loaded from disk. It returns nil, nil
// when nothing was saved or the saved session has expired.
func (a *AuthClient) Restore(ctx context.Context) (*types.User, error) {
	if !a.store.IsAuthenticated() {
		if _, cookies := a.store.Cookies(); len(cookies) == 0 {
			return nil, nil
		}
	}
	return a.CheckAuth(ctx)
}

// Logout ends the backend session. Local state is cleared even when the
// backend call fails; that failure is still returned.
func (a *AuthClient) Logout(ctx context.Context) error {
	err := a.api.PostJSON(ctx, LogoutPath, nil, nil)
	a.store.Invalidate()
	if err != nil && !types.IsAuthError(err) {
		return err
	}
	return nil
}

// UpdateProfile sends patch to the backend and merges it into the local
// user.
func (a *AuthClient) UpdateProfile(ctx context.Context, patch types.ProfileUpdate) (*types.User, error) {
	if !a.store.IsAuthenticated() {
		return nil, types.NewStatusError(http.StatusUnauthorized, "not signed in").WithEndpoint(ProfileUpdatePath)
	}
	if patch.Username != nil && strings.TrimSpace(*patch.Username) == "" {
		e := types.NewValidationError("username")
		e.Message = "username cannot be empty"
		return nil, e.WithEndpoint(ProfileUpdatePath)
	}

	if err := a.api.PutJSON(ctx, ProfileUpdatePath, patch, nil); err != nil {
		return nil, err
	}
	if err := a.store.Update(patch); err != nil {
		return nil, errors.Join(errors.New("profile updated but local session is stale"), err)
	}

	user, _ := a.store.Current()
	return user, nil
}
