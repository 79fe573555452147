// Command fitrelay is the relay's process entrypoint: it loads
// configuration, opens the store, wires the C1-C9 collaborators together,
// and serves until an OS signal asks it to stop. Grounded on the teacher's
// main.go (config.New -> database.New -> server.NewServer -> server.Start,
// with profile.Start gated on cfg.Pprof and a graceful-shutdown hook), with
// os/signal.NotifyContext standing in for the teacher's interrupt package
// (not present in the retrieved snapshot).
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"

	"fitrelay.dev/chk"
	"fitrelay.dev/config"
	"fitrelay.dev/context"
	"fitrelay.dev/expiry"
	"fitrelay.dev/hex"
	"fitrelay.dev/log"
	"fitrelay.dev/satellite"
	"fitrelay.dev/server"
	"fitrelay.dev/signer"
	"fitrelay.dev/socketapi"
	"fitrelay.dev/store"
	"fitrelay.dev/subscription"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
	log.I.F("starting %s", cfg.AppName)

	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}

	ctx, stop := signal.NotifyContext(context.Bg(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DataDir)
	if chk.E(err) {
		os.Exit(1)
	}
	defer db.Close()

	sats := satellite.New(db.DB)
	sats.SetLiveness(time.Duration(cfg.SatelliteLivenessSeconds) * time.Second)

	subs := subscription.New()

	identity, err := loadIdentity(cfg)
	if chk.E(err) {
		os.Exit(1)
	}

	engine := socketapi.New(db, subs, sats, identity, socketapi.Config{
		FutureSkew:         cfg.ClockSkewFutureSeconds,
		DefaultLimit:       cfg.DefaultQueryLimit,
		MaxLimit:           cfg.MaxQueryLimit,
		ForwardTimeout:     time.Duration(cfg.ForwardTimeoutSeconds) * time.Second,
		ForwardMaxAttempts: cfg.ForwardMaxAttempts,
		ForwardBaseBackoff: time.Duration(cfg.ForwardBaseBackoffMillis) * time.Millisecond,
	})

	sweeper := expiry.New(db, time.Duration(cfg.ExpirySweepIntervalSeconds)*time.Second)
	go sweeper.Run(ctx)

	srv := server.New(ctx, server.Params{
		ListenAddress: cfg.ListenAddress,
		Metadata: server.Metadata{
			Name:        cfg.AppName,
			Description: cfg.ServerDescription,
			Identity:    hex.Enc(identity.Pub()),
			Contact:     cfg.ServerContact,
			SupportedKind: []string{
				"1301", "33401", "33402", "32018-32048",
			},
			DefaultLimit: cfg.DefaultQueryLimit,
			MaxLimit:     cfg.MaxQueryLimit,
		},
		MaxLiveQueue: cfg.MaxOutboundQueue,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingWait:     30 * time.Second,
	}, db, sats, identity, engine)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	if err = srv.Start(); chk.E(err) {
		os.Exit(1)
	}
	log.I.Ln("stopped cleanly")
}

// loadIdentity resolves the relay's own signing identity: an explicitly
// configured secret wins, otherwise one is generated and logged so the
// operator can pin it for the next run (a fresh identity every restart
// would orphan any subscriber relying on a stable reference-event author).
func loadIdentity(cfg *config.C) (signer.I, error) {
	s := &signer.Signer{}
	if cfg.ServerIdentitySecret == "" {
		if err := s.Generate(); err != nil {
			return nil, err
		}
		log.W.F(
			"no %s set, generated a new relay identity for this run: FITRELAY_SERVER_IDENTITY_SECRET=%s",
			"FITRELAY_SERVER_IDENTITY_SECRET", hex.Enc(s.Sec()),
		)
		return s, nil
	}
	sec, err := hex.Dec(cfg.ServerIdentitySecret)
	if err != nil {
		return nil, err
	}
	if err = s.InitSec(sec); err != nil {
		return nil, err
	}
	return s, nil
}
