package cli

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/toolgate"
	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/internal/compiler/projection"
	"github.com/aretw0/toolgate/internal/config"
	"github.com/aretw0/toolgate/pkg/adapters/file"
	"github.com/aretw0/toolgate/pkg/adapters/memory"
	"github.com/aretw0/toolgate/pkg/adapters/redis"
	"github.com/aretw0/toolgate/pkg/persistence/middleware"
	"github.com/aretw0/toolgate/pkg/ports"
	"github.com/aretw0/toolgate/pkg/registry"
)

// NewCompiler configures a compiler from the build section.
func NewCompiler(cfg config.BuildConfig, resolver registry.Resolver, logger *slog.Logger) (*compiler.Compiler, error) {
	projectors, err := projection.Resolve(cfg.Providers)
	if err != nil {
		return nil, err
	}
	return compiler.New(resolver,
		compiler.WithLogger(logger),
		compiler.WithProjectors(projectors...),
		compiler.WithMajor(cfg.Major),
		compiler.WithRevision(cfg.Revision),
	), nil
}

// newStore opens the snapshot store named by cfg. The locker is nil unless
// the redis driver is asked to serialize sessions across processes.
func newStore(cfg config.StoreConfig) (ports.SnapshotStore, ports.DistributedLocker, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memory.NewStore(), nil, nop, nil
	case config.DriverFile:
		return file.NewStore(cfg.Path), nil, nop, nil
	case config.DriverRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		var locker ports.DistributedLocker
		if cfg.Redis.Lock {
			locker = redis.NewLocker(store.Client(), cfg.Redis.Prefix)
		}
		return store, locker, store.Client().Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// secure wraps store with the masking and encryption middleware cfg asks for.
// Masking runs first so masked values are never sealed.
func secure(store ports.SnapshotStore, cfg config.StoreConfig) (ports.SnapshotStore, error) {
	var mws []middleware.Middleware
	if len(cfg.Mask) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.Mask)
		if err != nil {
			return nil, fmt.Errorf("store.mask: %w", err)
		}
		mws = append(mws, mw)
	}
	if cfg.Encryption.Key != "" {
		enc := middleware.EncryptionConfig{}
		key, err := middleware.ParseKey(cfg.Encryption.Key)
		if err != nil {
			return nil, fmt.Errorf("store.encryption.key: %w", err)
		}
		enc.ActiveKey = key
		for _, s := range cfg.Encryption.FallbackKeys {
			key, err := middleware.ParseKey(s)
			if err != nil {
				return nil, fmt.Errorf("store.encryption.fallback_keys: %w", err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		mw, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, fmt.Errorf("store.encryption: %w", err)
		}
		mws = append(mws, mw)
	}
	return middleware.Wrap(store, mws...), nil
}

// NewRuntime builds a Runtime with every policy taken from cfg.
// The returned closer releases the store connection.
func NewRuntime(cfg *config.Config, resolver registry.Resolver, logger *slog.Logger) (*toolgate.Runtime, func() error, error) {
	store, locker, closer, err := newStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	store, err = secure(store, cfg.Store)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}

	opts := []toolgate.Option{
		toolgate.WithLogger(logger),
		toolgate.WithStore(store),
		toolgate.WithRetryPolicy(cfg.Retry),
		toolgate.WithDedup(cfg.Dedup),
		toolgate.WithLoopGuard(cfg.Loop),
		toolgate.WithDispatch(
			toolgate.WithMaxCallsPerTurn(cfg.Dispatch.MaxCallsPerTurn),
			toolgate.WithDefaultMode(cfg.Dispatch.DefaultMode),
		),
	}
	if locker != nil {
		opts = append(opts, toolgate.WithLocker(locker))
	}
	return toolgate.New(resolver, opts...), closer, nil
}
