package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/observability"
)

// Listener serves one http.Handler on one address.
type Listener struct {
	name    string
	address string
	server  *http.Server
	logger  observability.Logger

	mu      sync.Mutex
	addr    net.Addr
	running bool
	done    chan struct{}
}

// NewListener creates a listener for handler on address.
func NewListener(name, address string, handler http.Handler, logger observability.Logger) *Listener {
	return &Listener{
		name:    name,
		address: address,
		logger:  logger,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Name returns the listener name.
func (l *Listener) Name() string {
	return l.name
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("listener %s is already running", l.name)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}

	l.addr = ln.Addr()
	l.running = true
	l.done = make(chan struct{})

	l.logger.Info("listener started",
		observability.String("name", l.name),
		observability.String("address", l.addr.String()),
	)

	go l.serve(ln, l.done)

	return nil
}

func (l *Listener) serve(ln net.Listener, done chan struct{}) {
	defer close(done)

	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("name", l.name),
			observability.Error(err),
		)
	}
}

// Stop shuts the listener down gracefully, closing it forcibly when ctx
// expires first.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	done := l.done
	l.mu.Unlock()

	l.logger.Info("stopping listener", observability.String("name", l.name))

	err := l.server.Shutdown(ctx)
	if err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		err = fmt.Errorf("failed to shutdown listener %s gracefully: %w", l.name, err)
	}
	<-done

	l.logger.Info("listener stopped", observability.String("name", l.name))
	return err
}
