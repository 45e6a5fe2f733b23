package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/webverify/webverify/config"
	"github.com/webverify/webverify/navigation"
	"github.com/webverify/webverify/store"
	"github.com/webverify/webverify/trust"
)

// env holds the configuration and the state-backed components shared by
// commands.
type env struct {
	cfg      *config.Config
	layout   store.Layout
	logger   *slog.Logger
	keys     *store.KeyStore
	results  *store.ResultCache
	policy   *store.PolicyStore
	verifier *trust.Verifier
}

// loadEnv reads the configuration and opens the stores under its state
// directory. Nothing is fetched over the network.
func loadEnv(o *globalOptions) (*env, error) {
	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	layout := store.Layout{Dir: cfg.StateDir()}
	policy, err := store.OpenPolicyStore(layout.PolicyPath(), store.WithPolicyLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("opening policy: %w", err)
	}

	e := &env{
		cfg:     cfg,
		layout:  layout,
		logger:  o.logger,
		keys:    store.NewKeyStore(layout.KeysDir()),
		results: store.NewResultCache(layout.ResultsDir()),
		policy:  policy,
	}

	source := trust.NewHKPClient(
		trust.WithKeyserverURL(cfg.Keyserver.URL),
		trust.WithKeyserverHTTPClient(&http.Client{Timeout: cfg.KeyserverTimeout()}),
		trust.WithLookupRate(cfg.Keyserver.RequestsPerMinute),
	)
	resolver := trust.NewKeyResolver(e.keys, source, trust.WithResolverLogger(o.logger))
	e.verifier = trust.NewVerifier(resolver, trust.WithVerifierLogger(o.logger))
	return e, nil
}

// coordinator builds a Coordinator driving host with the configured cache,
// policy, pages and limits.
func (e *env) coordinator(host navigation.Host, opts ...navigation.Option) *navigation.Coordinator {
	base := []navigation.Option{
		navigation.WithLogger(e.logger),
		navigation.WithResultCache(e.results),
		navigation.WithPolicy(e.policy),
		navigation.WithDestinations(e.cfg.Destinations()),
		navigation.WithMaxBodyBytes(e.cfg.MaxBodyBytes()),
		navigation.WithMatcherTimeout(e.cfg.MatcherTimeout()),
	}
	return navigation.New(host, e.verifier, append(base, opts...)...)
}
