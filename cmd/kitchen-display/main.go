package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kitchen-display/internal/api"
	"kitchen-display/internal/common/config"
	"kitchen-display/internal/common/logger"
	"kitchen-display/internal/common/mq"
	"kitchen-display/internal/hours"
	"kitchen-display/internal/kv"
	"kitchen-display/internal/lifecycle"
	"kitchen-display/internal/orchestrator"
	"kitchen-display/internal/session"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "path to YAML config")
	flag.Parse()

	lg := logger.New("bootstrap")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": *cfgPath})
		os.Exit(1)
	}

	store, err := kv.Open(cfg.Display.StatePath)
	if err != nil {
		lg.Error("state_open_failed", err, map[string]any{"path": cfg.Display.StatePath})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := api.New(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSec)*time.Second)
	sess := session.NewManager(client, store, cfg.API.RestaurantID)

	var publisher lifecycle.StatusPublisher
	if cfg.Rabbit.Enabled() {
		pub, err := mq.Dial(cfg.Rabbit.Host, cfg.Rabbit.Port, cfg.Rabbit.User, cfg.Rabbit.Password, cfg.Rabbit.VHost)
		if err != nil {
			// Status mirroring is best effort; the kitchen runs without it.
			lg.Error("rabbitmq_unavailable", err, nil)
		} else {
			defer pub.Close()
			publisher = pub
			lg.Info("rabbitmq_connected", map[string]any{"host": cfg.Rabbit.Host, "exchange": mq.Exchange})
		}
	}

	device := cfg.Display.DeviceName
	if device == "" {
		device, _ = os.Hostname()
	}

	orch := orchestrator.New(orchestrator.Deps{
		API:          client,
		Session:      sess,
		Hours:        hours.AlwaysOpen{},
		Store:        store,
		Publisher:    publisher,
		Player:       consolePlayer{},
		RestaurantID: cfg.API.RestaurantID,
		DeviceName:   device,
		SoundDefault: cfg.Display.SoundDefault,
		Confirm:      promptYesNo,
	})

	if !sess.Resume() {
		if err := pairFromStdin(ctx, sess); err != nil {
			lg.Error("pairing_failed", err, nil)
			os.Exit(1)
		}
	}

	if err := orch.Start(ctx); err != nil {
		lg.Error("fatal", err, nil)
		os.Exit(1)
	}
	lg.Info("service_started", map[string]any{"restaurant_id": cfg.API.RestaurantID, "device": device})

	// Headless rendering: log a queue snapshot on a slow cadence.
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			orch.Stop()
			lg.Info("graceful_shutdown", nil)
			return
		case <-t.C:
			snap := orch.Snapshot()
			if !snap.Authenticated {
				lg.Info("unpaired", map[string]any{"reason": snap.UnpairReason})
				orch.Stop()
				return
			}
			lg.Info("queue_snapshot", map[string]any{
				"grid":         len(snap.Grid),
				"queued":       snap.QueueCount,
				"reconnecting": snap.Reconnecting,
			})
		}
	}
}

func pairFromStdin(ctx context.Context, sess *session.Manager) error {
	sc := bufio.NewScanner(os.Stdin)
	for attempt := 0; attempt < 3; attempt++ {
		fmt.Fprint(os.Stderr, "Enter 6-digit pairing PIN: ")
		if !sc.Scan() {
			return fmt.Errorf("stdin closed")
		}
		err := sess.Login(ctx, sc.Text())
		if err == nil {
			return nil
		}
		fmt.Fprintf(os.Stderr, "pairing failed: %v\n", err)
	}
	return fmt.Errorf("too many failed attempts")
}

func promptYesNo(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sc.Text()))
	return answer == "y" || answer == "yes"
}

// consolePlayer stands in for the platform audio capability when running
// headless: playback always succeeds and is logged.
type consolePlayer struct{}

func (consolePlayer) Unlock() error { return nil }
func (consolePlayer) Play() error   { fmt.Fprintln(os.Stderr, "\a[alert] new order"); return nil }
