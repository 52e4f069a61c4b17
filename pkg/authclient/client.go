// Package authclient is a Go client for the reactom session gateway. It
// tracks the session as an explicit state machine, keeps tokens in an
// httpOnly-cookie jar the caller never sees, and attaches the CSRF token
// to mutating requests at call time.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Phase is the client's position in the session lifecycle.
type Phase string

const (
	// PhaseUnresolved means Resolve has not completed yet; the session
	// state is unknown.
	PhaseUnresolved Phase = "unresolved"
	// PhaseAuthenticating means a login attempt is in flight.
	PhaseAuthenticating Phase = "authenticating"
	// PhaseSecondFactorPending means the password was accepted and the
	// server is waiting for a TOTP code.
	PhaseSecondFactorPending Phase = "second_factor_pending"
	// PhaseAuthenticated means a session is established.
	PhaseAuthenticated Phase = "authenticated"
	// PhaseAnonymous means the session is resolved and there is none.
	PhaseAnonymous Phase = "anonymous"
)

// User is the public profile the gateway returns on login.
type User struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// State is an immutable snapshot of the session. Pending credentials and
// enrollment secrets are held inside the client only and never appear here.
type State struct {
	Phase             Phase
	IsLoggedIn        bool
	IsSessionResolved bool
	User              *User
	CSRFToken         string
	Err               error
}

// TwoFactorSetup carries the provisioning material for an authenticator app.
type TwoFactorSetup struct {
	SecretBase32 string `json:"secretBase32"`
	QRDataURL    string `json:"qrDataUrl"`
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.StatusCode)
}

type pendingCredentials struct {
	username string
	password string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. A cookie jar is
// installed if the client has none, and the CSRF transport is layered on
// top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSessionHint tells Resolve whether a previous session is believed to
// exist. With hasSession=false, Resolve skips the network round trip and
// lands directly in the anonymous resolved state.
func WithSessionHint(hasSession bool) Option {
	return func(c *Client) { c.sessionHint = hasSession }
}

// WithOnChange registers a callback invoked after every state transition,
// with the new snapshot. The callback runs with the client lock released.
func WithOnChange(fn func(State)) Option {
	return func(c *Client) { c.onChange = fn }
}

// WithProfileFetcher installs the collaborator that loads the full user
// profile. A silent refresh only proves the session and yields the user ID;
// the fetcher fills in the rest. Fetch failures are ignored: the session is
// established either way.
func WithProfileFetcher(fn func(ctx context.Context, userID string) (*User, error)) Option {
	return func(c *Client) { c.fetchProfile = fn }
}

// Client drives the session gateway. All exported methods are safe for
// concurrent use; responses from superseded attempts are dropped.
type Client struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	state        State
	generation   uint64
	pending      *pendingCredentials
	enrollSecret string

	sessionHint  bool
	onChange     func(State)
	fetchProfile func(ctx context.Context, userID string) (*User, error)

	// Notification delivery is decoupled from the state lock but ordered:
	// snapshots queue up under notifyMu and a single drainer hands them to
	// the callback in the sequence the transitions happened.
	notifyMu    sync.Mutex
	notifyQueue []State
	notifying   bool
}

// New builds a client for the gateway at baseURL. The default http.Client
// gets its own cookie jar so access and refresh cookies round-trip without
// the caller ever handling them.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:     baseURL,
		state:       State{Phase: PhaseUnresolved},
		sessionHint: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("authclient: cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	c.http.Transport = NewTransport(c.currentCSRFToken, c.http.Transport)
	return c, nil
}

// State returns the current snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) currentCSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CSRFToken
}

// Do sends the request through the client's pipeline: cookies from the jar,
// CSRF header on mutating methods. Use it for application calls that need
// the established session.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// beginAttempt bumps the generation under the lock, applies a transitional
// state, and returns the generation the eventual response must present.
func (c *Client) beginAttempt(transition func(*State)) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if transition != nil {
		transition(&c.state)
		c.notifyLocked()
	}
	return c.generation
}

// apply installs a new state if gen is still current. A response arriving
// after a newer attempt (or a logout) started is discarded. The mutate
// callback runs under the client lock, so it may also touch attempt-scoped
// fields like pending credentials; keeping those writes inside the callback
// puts them behind the same staleness check as the state itself.
func (c *Client) apply(gen uint64, mutate func(*State)) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	mutate(&c.state)
	c.notifyLocked()
	c.mu.Unlock()
	return true
}

func (c *Client) notifyLocked() {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	c.notifyQueue = append(c.notifyQueue, c.state)
	if !c.notifying {
		c.notifying = true
		go c.drainNotifications()
	}
	c.notifyMu.Unlock()
}

func (c *Client) drainNotifications() {
	for {
		c.notifyMu.Lock()
		if len(c.notifyQueue) == 0 {
			c.notifying = false
			c.notifyMu.Unlock()
			return
		}
		snapshot := c.notifyQueue[0]
		c.notifyQueue = c.notifyQueue[1:]
		c.notifyMu.Unlock()
		c.onChange(snapshot)
	}
}

// Resolve settles the initial session state, normally by a silent refresh.
// When the session hint says no session exists, the network is skipped.
// A failed refresh is not an error: it simply resolves to anonymous.
func (c *Client) Resolve(ctx context.Context) error {
	if !c.sessionHint {
		gen := c.beginAttempt(nil)
		c.apply(gen, func(s *State) {
			*s = State{Phase: PhaseAnonymous, IsSessionResolved: true}
		})
		return nil
	}

	gen := c.beginAttempt(nil)
	var out refreshResponse
	err := c.post(ctx, "/auth/silent-refresh", nil, &out)
	if err != nil {
		c.apply(gen, func(s *State) {
			*s = State{Phase: PhaseAnonymous, IsSessionResolved: true}
		})
		return nil
	}
	c.apply(gen, func(s *State) {
		*s = State{
			Phase:             PhaseAuthenticated,
			IsLoggedIn:        true,
			IsSessionResolved: true,
			User:              &User{ID: out.User.ID},
			CSRFToken:         out.CSRFToken,
		}
	})

	if c.fetchProfile != nil {
		if profile, err := c.fetchProfile(ctx, out.User.ID); err == nil && profile != nil {
			c.apply(gen, func(s *State) { s.User = profile })
		}
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

type loginResponse struct {
	TwoFactorRequired bool   `json:"twoFactorRequired"`
	CSRFToken         string `json:"csrfToken"`
	User              *User  `json:"user"`
}

type refreshResponse struct {
	CSRFToken string `json:"csrfToken"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Login authenticates with username and password. When the account has a
// second factor enabled, the credentials are parked in memory and the state
// moves to SecondFactorPending; SubmitSecondFactor completes the attempt.
func (c *Client) Login(ctx context.Context, username, password string) error {
	gen := c.beginAttempt(func(s *State) {
		s.Phase = PhaseAuthenticating
		s.Err = nil
	})
	return c.finishLogin(ctx, gen, loginRequest{Username: username, Password: password})
}

// SubmitSecondFactor replays the parked credentials with a TOTP code. The
// parked credentials are cleared on every outcome, success or not.
func (c *Client) SubmitSecondFactor(ctx context.Context, code string) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	if pending == nil {
		c.mu.Unlock()
		return fmt.Errorf("authclient: no second-factor attempt in progress")
	}
	c.generation++
	gen := c.generation
	c.state.Phase = PhaseAuthenticating
	c.state.Err = nil
	c.notifyLocked()
	c.mu.Unlock()

	return c.finishLogin(ctx, gen, loginRequest{
		Username: pending.username,
		Password: pending.password,
		TOTP:     code,
	})
}

func (c *Client) finishLogin(ctx context.Context, gen uint64, req loginRequest) error {
	var out loginResponse
	status, err := c.postStatus(ctx, "/auth/login", req, &out)
	switch {
	case err != nil:
		c.apply(gen, func(s *State) {
			s.Phase = PhaseAnonymous
			s.IsLoggedIn = false
			s.IsSessionResolved = true
			s.User = nil
			s.CSRFToken = ""
			s.Err = err
			c.pending = nil
		})
		return err
	case status == http.StatusPartialContent:
		c.apply(gen, func(s *State) {
			s.Phase = PhaseSecondFactorPending
			s.Err = nil
			c.pending = &pendingCredentials{username: req.Username, password: req.Password}
		})
		return nil
	default:
		c.apply(gen, func(s *State) {
			*s = State{
				Phase:             PhaseAuthenticated,
				IsLoggedIn:        true,
				IsSessionResolved: true,
				User:              out.User,
				CSRFToken:         out.CSRFToken,
			}
			c.pending = nil
		})
		return nil
	}
}

// Logout resets to anonymous immediately and revokes the server session in
// the background. The generation bump means any in-flight login response
// arriving afterwards is dropped, and the network outcome never changes
// the local state.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	c.pending = nil
	c.enrollSecret = ""
	c.state = State{Phase: PhaseAnonymous, IsSessionResolved: true}
	c.notifyLocked()
	c.mu.Unlock()

	// Best effort; the local reset already happened.
	_ = c.post(ctx, "/auth/logout", nil, nil)
}

type twoFactorSetupRequest struct {
	UserID string `json:"userId"`
}

type twoFactorVerifyRequest struct {
	UserID string `json:"userId"`
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

// BeginTwoFactorSetup asks the gateway for a fresh TOTP secret and holds it
// for the confirm step. Requires an authenticated session.
func (c *Client) BeginTwoFactorSetup(ctx context.Context) (*TwoFactorSetup, error) {
	c.mu.Lock()
	user := c.state.User
	c.mu.Unlock()
	if user == nil {
		return nil, fmt.Errorf("authclient: not logged in")
	}

	var setup TwoFactorSetup
	if err := c.post(ctx, "/auth/2fa/setup", twoFactorSetupRequest{UserID: user.ID}, &setup); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.enrollSecret = setup.SecretBase32
	c.mu.Unlock()
	return &setup, nil
}

// ConfirmTwoFactorSetup proves possession of the held secret with a live
// code. The secret is discarded on every outcome; a failed confirm means
// starting over with BeginTwoFactorSetup.
func (c *Client) ConfirmTwoFactorSetup(ctx context.Context, code string) error {
	c.mu.Lock()
	user := c.state.User
	secret := c.enrollSecret
	c.enrollSecret = ""
	c.mu.Unlock()
	if user == nil {
		return fmt.Errorf("authclient: not logged in")
	}
	if secret == "" {
		return fmt.Errorf("authclient: no enrollment in progress")
	}

	err := c.post(ctx, "/auth/2fa/verify", twoFactorVerifyRequest{
		UserID: user.ID,
		Secret: secret,
		Token:  code,
	}, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.state.User != nil && c.state.User.ID == user.ID {
		u := *c.state.User
		u.TwoFactorEnabled = true
		c.state.User = &u
		c.notifyLocked()
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	_, err := c.postStatus(ctx, path, body, out)
	return err
}

func (c *Client) postStatus(ctx context.Context, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, fmt.Errorf("authclient: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(res.StatusCode)
		}
		return res.StatusCode, &APIError{StatusCode: res.StatusCode, Message: apiErr.Message}
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res.StatusCode, fmt.Errorf("authclient: decode response: %w", err)
		}
	}
	return res.StatusCode, nil
}
