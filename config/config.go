// Package config provides a go-simpler.org/env configuration table, in the
// teacher's style (config/config.go): environment-variable struct tags with
// defaults, XDG-resolved directories when a path is left unset.
package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"fitrelay.dev/chk"
)

// C is the relay's full runtime configuration, read from the environment.
type C struct {
	AppName string `env:"FITRELAY_APP_NAME" default:"fitrelay.dev"`

	ListenAddress string `env:"FITRELAY_LISTEN_ADDRESS" default:"0.0.0.0:3402" usage:"transport bind target"`
	DataDir       string `env:"FITRELAY_DATA_DIR" usage:"backing store locator; defaults under the XDG data home"`

	// ServerIdentitySecret is the relay's own BIP-340 secret key, hex
	// encoded. The advertised server_identity_pubkey is derived from it at
	// startup rather than configured separately, since a value the relay
	// cannot sign with would be useless for C8.
	ServerIdentitySecret string `env:"FITRELAY_SERVER_IDENTITY_SECRET" usage:"hex secret key the relay signs reference events with; a fresh one is generated at each startup if unset"`
	ServerContact        string `env:"FITRELAY_SERVER_CONTACT" usage:"advertised contact, shown on GET /"`
	ServerDescription    string `env:"FITRELAY_SERVER_DESCRIPTION" default:"a relay for signed health and fitness events"`

	MaxOutboundQueue int `env:"FITRELAY_MAX_OUTBOUND_QUEUE" default:"256" usage:"per-connection outbound live-frame queue depth"`

	DefaultQueryLimit int `env:"FITRELAY_DEFAULT_QUERY_LIMIT" default:"100"`
	MaxQueryLimit     int `env:"FITRELAY_MAX_QUERY_LIMIT" default:"1000"`

	ClockSkewFutureSeconds int64 `env:"FITRELAY_CLOCK_SKEW_FUTURE_SECONDS" default:"300"`

	SatelliteLivenessSeconds int `env:"FITRELAY_SATELLITE_LIVENESS_SECONDS" default:"86400"`

	ExpirySweepIntervalSeconds int `env:"FITRELAY_EXPIRY_SWEEP_INTERVAL_SECONDS" default:"3600"`

	ForwardTimeoutSeconds    int `env:"FITRELAY_FORWARD_TIMEOUT_SECONDS" default:"10"`
	ForwardMaxAttempts       int `env:"FITRELAY_FORWARD_MAX_ATTEMPTS" default:"5"`
	ForwardBaseBackoffMillis int `env:"FITRELAY_FORWARD_BASE_BACKOFF_MILLIS" default:"500"`

	CorsAllowedOrigins []string `env:"FITRELAY_CORS_ALLOWED_ORIGINS" default:"*"`

	Pprof bool `env:"FITRELAY_PPROF" default:"false" usage:"enable pprof on 127.0.0.1:6060"`
}

// New loads C from the environment, filling XDG-resolved defaults for any
// directory left unset.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.E(err) {
		return
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	return
}
