package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	"cartbroker/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"

	permReadAvailability = "read:availability"
	permReadReservations = "read:reservations"

	clientKeyUnknown = "unknown"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// keyRing checks API keys for both transports.
type keyRing struct {
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
}

func newKeyRing(cfg config.APIAuthConfig) *keyRing {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}
	r := &keyRing{
		apiKeyHeader: strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey)),
		extraHeader:  strings.ToLower(strings.TrimSpace(cfg.HeaderExtra)),
		clients:      m,
	}
	if r.apiKeyHeader == "" {
		r.apiKeyHeader = apiKeyHeaderDefault
	}
	if r.extraHeader == "" {
		r.extraHeader = apiExtraHeaderDefault
	}
	return r
}

// authenticate verifies the key pair and that the client holds required.
// An empty permission list allows everything.
func (r *keyRing) authenticate(apiKey, extra, required string) (config.APIClientKey, error) {
	apiKey, extra = strings.TrimSpace(apiKey), strings.TrimSpace(extra)
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}
	client, ok := r.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	if required == "" || len(client.Permissions) == 0 {
		return client, nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return client, nil
		}
	}
	return config.APIClientKey{}, errPermissionDenied
}
