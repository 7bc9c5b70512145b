package gateway

import (
	"fmt"

	"github.com/vyrodovalexey/authgate/internal/authrequest"
	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/pipeline"
	"github.com/vyrodovalexey/authgate/internal/proxy"
	"github.com/vyrodovalexey/authgate/internal/router"
)

// build is the result of turning a configuration into pipeline objects.
type build struct {
	snapshot  *pipeline.Snapshot
	upstreams map[string]*proxy.Upstream
}

// close releases the connections held by the build's upstreams.
func (b *build) close() {
	if b == nil {
		return
	}
	for _, u := range b.upstreams {
		u.Close()
	}
}

// builder creates snapshots from configurations.
type builder struct {
	logger       observability.Logger
	metrics      *observability.Metrics
	proxyMetrics *proxy.Metrics
}

func (b *builder) build(cfg *config.Config) (*build, error) {
	out := &build{upstreams: make(map[string]*proxy.Upstream, len(cfg.Upstreams))}

	for i := range cfg.Upstreams {
		uc := &cfg.Upstreams[i]
		u, err := proxy.NewUpstream(proxy.UpstreamConfig{
			Name:        uc.Name,
			URL:         uc.URL,
			Timeout:     uc.Timeout.Duration(),
			HideHeaders: uc.HideHeaders,
			CircuitBreaker: proxy.BreakerConfig{
				Enabled:   uc.CircuitBreaker.Enabled,
				Threshold: uc.CircuitBreaker.Threshold,
				Timeout:   uc.CircuitBreaker.Timeout.Duration(),
			},
		},
			proxy.WithLogger(b.logger.Named("proxy").With(observability.String("upstream", uc.Name))),
			proxy.WithMetrics(b.proxyMetrics),
			proxy.WithStateCallback(b.metrics.SetCircuitBreakerState),
		)
		if err != nil {
			out.close()
			return nil, err
		}
		out.upstreams[uc.Name] = u
	}

	servers := make([]*pipeline.Server, 0, len(cfg.Servers))
	for i := range cfg.Servers {
		srv, err := b.buildServer(cfg, &cfg.Servers[i], out.upstreams)
		if err != nil {
			out.close()
			return nil, err
		}
		servers = append(servers, srv)
	}

	out.snapshot = pipeline.NewSnapshot(servers...)
	return out, nil
}

func (b *builder) buildServer(cfg *config.Config, sc *config.ServerConfig, upstreams map[string]*proxy.Upstream) (*pipeline.Server, error) {
	srv := pipeline.NewServer(sc.Name)

	for j := range sc.Locations {
		lc := &sc.Locations[j]

		conf, err := cfg.LocationAuthConf(sc, lc)
		if err != nil {
			return nil, fmt.Errorf("server %s location %s: %w", sc.Name, lc.Name, err)
		}

		loc := &pipeline.Location{
			Name:     lc.Name,
			Pattern:  lc.Path,
			Match:    router.MatchKind(lc.Match),
			Internal: lc.Internal,
		}

		switch {
		case lc.ProxyPass != "":
			u, ok := upstreams[lc.ProxyPass]
			if !ok {
				return nil, fmt.Errorf("server %s location %s: unknown upstream %q", sc.Name, lc.Name, lc.ProxyPass)
			}
			loc.Content = u
		case lc.Return != nil:
			loc.Content = &proxy.Direct{
				Status:  lc.Return.Status,
				Headers: lc.Return.Headers,
				Body:    lc.Return.Body,
			}
		}

		authrequest.SetLocationConf(loc, conf)

		if err := srv.AddLocation(loc); err != nil {
			return nil, fmt.Errorf("server %s location %s: %w", sc.Name, lc.Name, err)
		}
	}

	return srv, nil
}
