// Package alert handles new-order alerting: audio under platform autoplay
// restrictions plus a visual flash that needs no permission at all.
package alert

import (
	"sync"
	"time"

	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/kv"
)

const (
	FlashPulses   = 3
	FlashInterval = 200 * time.Millisecond
)

const (
	keySoundEnabled  = "alerts/soundEnabled"
	keyAudioUnlocked = "alerts/audioUnlocked"
)

// Player is the platform-supplied audio capability. Unlock performs the
// near-silent play allowed inside a user gesture; Play sounds the real alert.
// Both return an error when the platform refuses playback.
type Player interface {
	Unlock() error
	Play() error
}

// Engine is the alert state machine. The hosting platform forwards user
// interactions to Interaction() for as long as ObservingInteractions reports
// true, and renders flashes through OnFlash.
type Engine struct {
	mu           sync.Mutex
	player       Player
	store        *kv.Store
	restaurantID string

	unlocked  bool
	enabled   bool
	banner    bool
	flashing  bool
	flashStop chan struct{}

	flashInterval time.Duration

	// OnFlash receives the pulse edges of the visual flash.
	OnFlash func(on bool)

	log *logger.Logger
}

func New(player Player, store *kv.Store, restaurantID string, soundDefault bool) *Engine {
	e := &Engine{
		player:        player,
		store:         store,
		restaurantID:  restaurantID,
		enabled:       soundDefault,
		flashInterval: FlashInterval,
		log:           logger.New("alert"),
	}
	if store != nil {
		var v bool
		if ok, err := store.Get(restaurantID, keySoundEnabled, &v); err == nil && ok {
			e.enabled = v
		}
		if ok, err := store.Get(restaurantID, keyAudioUnlocked, &v); err == nil && ok {
			e.unlocked = v
		}
	}
	return e
}

// ObservingInteractions reports whether the host should keep forwarding user
// interactions. Once audio is unlocked the listeners can be removed.
func (e *Engine) ObservingInteractions() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unlocked
}

// Interaction handles one qualifying user interaction: it attempts the audio
// unlock if still needed and clears the enable-alerts banner either way.
func (e *Engine) Interaction() {
	e.mu.Lock()
	e.banner = false
	needUnlock := !e.unlocked
	e.mu.Unlock()
	if !needUnlock {
		return
	}
	e.tryUnlock()
}

func (e *Engine) tryUnlock() {
	if err := e.player.Unlock(); err != nil {
		e.log.Debug("audio_unlock_rejected", map[string]any{"reason": err.Error()})
		return
	}
	e.mu.Lock()
	e.unlocked = true
	e.mu.Unlock()
	e.persist(keyAudioUnlocked, true)
	e.log.Info("audio_unlocked", nil)
}

// SoundEnabled reports the operator's persisted sound preference.
func (e *Engine) SoundEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetSoundEnabled persists the preference. Toggling on re-attempts the unlock
// immediately: the toggle tap itself is a qualifying gesture.
func (e *Engine) SetSoundEnabled(on bool) {
	e.mu.Lock()
	e.enabled = on
	needUnlock := on && !e.unlocked
	e.mu.Unlock()
	e.persist(keySoundEnabled, on)
	if needUnlock {
		e.tryUnlock()
	}
}

// NewOrder fires the alert for a freshly arrived order: sound when enabled
// and unlocked, and the visual flash unconditionally.
func (e *Engine) NewOrder() {
	e.mu.Lock()
	enabled, unlocked := e.enabled, e.unlocked
	e.mu.Unlock()

	if enabled {
		if !unlocked {
			e.showBanner()
		} else if err := e.player.Play(); err != nil {
			// The platform revoked playback; prompt for a new gesture.
			e.log.Debug("alert_play_rejected", map[string]any{"reason": err.Error()})
			e.mu.Lock()
			e.unlocked = false
			e.mu.Unlock()
			e.persist(keyAudioUnlocked, false)
			e.showBanner()
		}
	}
	e.flash()
}

func (e *Engine) showBanner() {
	e.mu.Lock()
	e.banner = true
	e.mu.Unlock()
}

// BannerVisible reports whether the "tap anywhere to enable alerts" banner is up.
func (e *Engine) BannerVisible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banner
}

// DismissBanner hides the banner without unlocking.
func (e *Engine) DismissBanner() {
	e.mu.Lock()
	e.banner = false
	e.mu.Unlock()
}

// flash runs the three-pulse visual alert. A flash already in progress is not
// restarted.
func (e *Engine) flash() {
	e.mu.Lock()
	if e.flashing || e.OnFlash == nil {
		e.mu.Unlock()
		return
	}
	e.flashing = true
	stop := make(chan struct{})
	e.flashStop = stop
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.flashing = false
			if e.flashStop == stop {
				e.flashStop = nil
			}
			e.mu.Unlock()
		}()
		for i := 0; i < FlashPulses; i++ {
			e.OnFlash(true)
			if !e.pulse(stop) {
				e.OnFlash(false)
				return
			}
			e.OnFlash(false)
			if !e.pulse(stop) {
				return
			}
		}
	}()
}

// pulse waits one flash interval; false means the engine was stopped and the
// remaining pulses must not fire.
func (e *Engine) pulse(stop chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(e.flashInterval):
		return true
	}
}

// Stop cancels an in-progress flash, ending on an off edge. Called on
// orchestrator shutdown and on auth change; later alerts flash normally.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.flashStop
	e.flashStop = nil
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (e *Engine) persist(key string, v bool) {
	if e.store == nil {
		return
	}
	if err := e.store.Put(e.restaurantID, key, v); err != nil {
		e.log.Error("preference_persist_failed", err, map[string]any{"key": key})
	}
}
