package provider

import (
	"context"
	"net/http"
	"sort"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig carries the OAuth2 client-credentials settings of a station
// family. An empty TokenURL means the station is reached unauthenticated.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// HTTPClient builds the HTTP client used against the stations: token-refreshing
// when authentication is configured, plain otherwise. No overall client timeout
// is set because product payloads can take a long time to stream; callers bound
// requests through their context.
func (a AuthConfig) HTTPClient(ctx context.Context) *http.Client {
	base := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	if a.TokenURL == "" {
		return base
	}

	cc := clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
	}

	return cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}

// Registry resolves station names to their providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a station name to a provider. Registration happens during
// startup, before any lookups.
func (r *Registry) Register(station string, p Provider) {
	r.providers[station] = p
}

// Resolve returns the provider serving the station, or an UnknownStationError
// when the name is not registered.
func (r *Registry) Resolve(station string) (Provider, error) {
	p, ok := r.providers[station]
	if !ok {
		return nil, &UnknownStationError{Station: station}
	}

	return p, nil
}

// Stations lists the registered station names in stable order.
func (r *Registry) Stations() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
