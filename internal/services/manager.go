// Package services locates backend services through the service registry and
// holds one RPC client per service for the lifetime of a session.
package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/rpc"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultProtocol    = "^1.0.0"
)

const registryKey = "\x00registry"

// Config configures a Manager.
type Config struct {
	// Registry is the host:port of the backend service registry.
	Registry string
	// Protocol is a semver constraint every service version must satisfy.
	Protocol string
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// DialContext opens connections. Nil uses a net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Manager finds and caches service clients.
type Manager struct {
	cfg        Config
	constraint *semver.Constraints
	logger     *zap.Logger
	group      singleflight.Group

	mu       sync.Mutex
	registry *rpc.Client
	clients  map[string]*rpc.Client
	disposed bool
}

// New validates cfg and returns a manager. No connection is made until the
// first lookup.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.Registry == "" {
		return nil, errors.New("registry address is required")
	}
	if cfg.Protocol == "" {
		cfg.Protocol = DefaultProtocol
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	constraint, err := semver.NewConstraint(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol constraint %q: %w", cfg.Protocol, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		constraint: constraint,
		logger:     logger,
		clients:    make(map[string]*rpc.Client),
	}, nil
}

// FindService returns the client for a named service, connecting on first
// use. Concurrent lookups of one name share a single connection attempt.
func (m *Manager) FindService(ctx context.Context, name string) (*rpc.Client, error) {
	if c, err := m.cached(name); c != nil || err != nil {
		return c, err
	}

	v, err, _ := m.group.Do(name, func() (any, error) {
		if c, err := m.cached(name); c != nil || err != nil {
			return c, err
		}
		return m.connect(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rpc.Client), nil
}

// Register announces a service hosted by the bridge to the registry.
func (m *Manager) Register(ctx context.Context, name string, loc backend.ServiceLocation) error {
	reg, err := m.registryClient(ctx)
	if err != nil {
		return err
	}
	if err := backend.NewRegistry(reg).RegisterService(ctx, name, loc); err != nil {
		return err
	}
	m.logger.Debug("registered callback service", zap.String("service", name), zap.String("addr", loc.Addr()))
	return nil
}

// Services lists the services currently connected.
func (m *Manager) Services() []string {
	m.mu.Lock()
	names := lo.Keys(m.clients)
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Dispose closes every client. It is safe to call more than once; lookups
// after Dispose fail with domain.ErrServiceUnavailable.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	clients := lo.Values(m.clients)
	if m.registry != nil {
		clients = append(clients, m.registry)
	}
	m.clients = map[string]*rpc.Client{}
	m.registry = nil
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) cached(name string) (*rpc.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, unavailable(name, errors.New("session disposed"))
	}
	return m.clients[name], nil
}

func (m *Manager) connect(ctx context.Context, name string) (*rpc.Client, error) {
	reg, err := m.registryClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", name, err)
	}

	loc, err := backend.NewRegistry(reg).GetService(ctx, name)
	if err != nil {
		return nil, unavailable(name, err)
	}
	if err := m.checkVersion(loc.Version); err != nil {
		return nil, unavailable(name, err)
	}

	c, err := m.dial(ctx, loc.Addr())
	if err != nil {
		return nil, unavailable(name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		_ = c.Close()
		return nil, unavailable(name, errors.New("session disposed"))
	}
	m.clients[name] = c
	m.logger.Debug("connected to service",
		zap.String("service", name),
		zap.String("addr", loc.Addr()),
		zap.String("version", loc.Version),
	)
	return c, nil
}

func (m *Manager) registryClient(ctx context.Context) (*rpc.Client, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, unavailable(backend.ServiceRegistryService, errors.New("session disposed"))
	}
	if m.registry != nil {
		c := m.registry
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(registryKey, func() (any, error) {
		m.mu.Lock()
		if m.registry != nil {
			c := m.registry
			m.mu.Unlock()
			return c, nil
		}
		m.mu.Unlock()

		c, err := m.dial(ctx, m.cfg.Registry)
		if err != nil {
			return nil, unavailable(backend.ServiceRegistryService, err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.disposed {
			_ = c.Close()
			return nil, unavailable(backend.ServiceRegistryService, errors.New("session disposed"))
		}
		m.registry = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rpc.Client), nil
}

func (m *Manager) dial(ctx context.Context, addr string) (*rpc.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	if m.cfg.DialContext == nil {
		return rpc.Dial(ctx, addr, m.logger)
	}
	conn, err := m.cfg.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return rpc.NewClient(conn, m.logger), nil
}

func (m *Manager) checkVersion(version string) error {
	if version == "" {
		return errors.New("service advertises no version")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	if !m.constraint.Check(v) {
		return fmt.Errorf("version %s does not satisfy %s", v, m.cfg.Protocol)
	}
	return nil
}

func unavailable(name string, cause error) error {
	return fmt.Errorf("service %s: %w: %w", name, domain.ErrServiceUnavailable, cause)
}
