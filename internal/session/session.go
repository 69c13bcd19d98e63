package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kitchen-display/internal/api"
	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/kv"
)

// ErrBadPIN is returned before any network call when the PIN is malformed.
var ErrBadPIN = errors.New("pin must be exactly 6 digits")

var pinRe = regexp.MustCompile(`^\d{6}$`)

// ExpiryBuffer shortens the advertised token lifetime so the display re-pairs
// before the server actually rejects the token.
const ExpiryBuffer = 5 * time.Minute

const storeKey = "session"

// Session holds the tokens issued by the PIN exchange.
type Session struct {
	IDToken      string    `json:"idToken"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Exchanger is the slice of the API client the session manager needs.
type Exchanger interface {
	ExchangePIN(ctx context.Context, restaurantID, pin string) (api.PinSession, error)
}

// Manager owns the kitchen session: PIN pairing, lazy expiry, and the single
// teardown path every auth failure funnels through.
type Manager struct {
	mu           sync.Mutex
	exch         Exchanger
	store        *kv.Store
	restaurantID string
	cur          *Session
	onUnpair     func(reason string)

	now func() time.Time
	log *logger.Logger
}

func NewManager(exch Exchanger, store *kv.Store, restaurantID string) *Manager {
	return &Manager{
		exch:         exch,
		store:        store,
		restaurantID: restaurantID,
		now:          time.Now,
		log:          logger.New("session"),
	}
}

// OnUnpair registers the callback invoked whenever the session is destroyed
// (explicitly or forced). The orchestrator uses it to tear down its loops.
func (m *Manager) OnUnpair(fn func(reason string)) {
	m.mu.Lock()
	m.onUnpair = fn
	m.mu.Unlock()
}

// NormalizePIN strips the separators operators habitually type.
func NormalizePIN(pin string) string {
	pin = strings.TrimSpace(pin)
	pin = strings.ReplaceAll(pin, " ", "")
	pin = strings.ReplaceAll(pin, "-", "")
	return pin
}

// Login exchanges the PIN for session tokens. Malformed PINs are rejected
// locally without touching the network.
func (m *Manager) Login(ctx context.Context, pin string) error {
	pin = NormalizePIN(pin)
	if !pinRe.MatchString(pin) {
		return ErrBadPIN
	}

	resp, err := m.exch.ExchangePIN(ctx, m.restaurantID, pin)
	if err != nil {
		return fmt.Errorf("pin exchange: %w", err)
	}

	now := m.now()
	expiresAt, err := expiryFor(resp, now)
	if err != nil {
		return err
	}

	s := &Session{
		IDToken:      resp.IDToken,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
	}

	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Put(m.restaurantID, storeKey, s); err != nil {
			m.log.Error("session_persist_failed", err, nil)
		}
	}
	m.log.Info("paired", map[string]any{"restaurant_id": m.restaurantID, "expires_at": expiresAt.UTC()})
	return nil
}

// expiryFor prefers the advertised expiresIn; when the exchange omits it, the
// token's own exp claim is used. Claims are read unverified; signature
// validation is the server's job, we only need the timestamp.
func expiryFor(resp api.PinSession, now time.Time) (time.Time, error) {
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn)*time.Second - ExpiryBuffer), nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.IDToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("token has no expiry and is not a parseable JWT: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("token carries no exp claim")
	}
	return exp.Time.Add(-ExpiryBuffer), nil
}

// Resume restores a persisted session if one exists and is still valid.
func (m *Manager) Resume() bool {
	if m.store == nil {
		return false
	}
	var s Session
	ok, err := m.store.Get(m.restaurantID, storeKey, &s)
	if err != nil || !ok {
		return false
	}
	if !m.now().Before(s.ExpiresAt) {
		_ = m.store.Delete(m.restaurantID, storeKey)
		return false
	}
	m.mu.Lock()
	m.cur = &s
	m.mu.Unlock()
	m.log.Info("session_resumed", map[string]any{"expires_at": s.ExpiresAt.UTC()})
	return true
}

// Token returns the idToken for API calls. Expiry is checked lazily on each
// read, not via a timer; an expired session is destroyed on first use.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return "", false
	}
	if !m.now().Before(s.ExpiresAt) {
		m.clear("session expired")
		return "", false
	}
	return s.IDToken, true
}

// Authenticated reports whether a non-expired session exists.
func (m *Manager) Authenticated() bool {
	_, ok := m.Token()
	return ok
}

// ForceUnpair destroys the session without asking. This is the only path that
// tears down the polling loop mid-flight; reason is surfaced verbatim to the
// operator.
func (m *Manager) ForceUnpair(reason string) {
	m.clear(reason)
}

// Unpair destroys the session only after the operator confirms.
func (m *Manager) Unpair(confirm func() bool) bool {
	if confirm == nil || !confirm() {
		return false
	}
	m.clear("unpaired by operator")
	return true
}

func (m *Manager) clear(reason string) {
	m.mu.Lock()
	hadSession := m.cur != nil
	m.cur = nil
	fn := m.onUnpair
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.Delete(m.restaurantID, storeKey)
	}
	if !hadSession {
		return
	}
	m.log.Info("unpaired", map[string]any{"reason": reason})
	if fn != nil {
		fn(reason)
	}
}
