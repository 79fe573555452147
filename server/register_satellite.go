// Register-satellite endpoint, schema-validated with huma, grounded on the
// teacher's pkg/protocol/openapi operations (huma.Register with a typed
// Input/Output pair, humachi.New adapting huma onto the chi router) but
// narrowed to this spec's single POST /register-satellite operation
// instead of a full CRUD surface.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/satellite"
)

// registerSatelliteInput is the request body of POST /register-satellite.
// Re-posting an already-registered pubkey is the heartbeat path: it
// refreshes last-seen and replaces url/supported_kinds.
type registerSatelliteInput struct {
	Body struct {
		URL            string `json:"url" doc:"base URL events are forwarded to" required:"true"`
		Pubkey         string `json:"pubkey" doc:"hex-encoded 32-byte node identity" required:"true" minLength:"64" maxLength:"64"`
		SupportedKinds []int  `json:"supported_kinds" doc:"event kinds this node accepts" required:"true"`
	}
}

type registerSatelliteOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

func registerOpenAPI(router *chi.Mux, s *Server) {
	api := humachi.New(router, &humachi.HumaConfig{OpenAPI: humachi.DefaultOpenAPIConfig()})
	huma.Register(api, huma.Operation{
		OperationID: "register-satellite",
		Summary:     "Register or heartbeat a satellite node",
		Method:      http.MethodPost,
		Path:        "/register-satellite",
	}, func(ctx context.Context, input *registerSatelliteInput) (output *registerSatelliteOutput, err error) {
		pubkey, derr := hex.Dec(input.Body.Pubkey)
		if derr != nil {
			return nil, huma.Error400BadRequest("pubkey must be 64 hex characters", derr)
		}
		kinds := make([]kind.T, len(input.Body.SupportedKinds))
		for i, k := range input.Body.SupportedKinds {
			kinds[i] = kind.T(k)
		}
		node := &satellite.Node{Pubkey: pubkey, URL: input.Body.URL, SupportedKinds: kinds}
		if err = s.sats.Register(node); err != nil {
			return nil, huma.Error400BadRequest("could not register satellite", err)
		}
		output = &registerSatelliteOutput{}
		output.Body.Accepted = true
		return output, nil
	})
}
