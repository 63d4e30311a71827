package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sessionlock/authcore/internal/rate"
	"github.com/sessionlock/authcore/password"
	"github.com/sessionlock/authcore/token"
)

// Builder assembles an [Engine]. Construction is allocation-only until
// Build; a Builder is single-use.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	store    Store
	users    UserProvider
	notifier Notifier
	clock    Clock
	logger   *slog.Logger

	built bool
}

// New returns a Builder preloaded with the reference configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration. The value is cloned; later
// mutation of cfg by the caller does not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the rate-limit counter store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the persistence interface for refresh, lockout and
// two-factor records.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithUserProvider sets the consumed account lookup.
func (b *Builder) WithUserProvider(users UserProvider) *Builder {
	b.users = users
	return b
}

// WithNotifier sets the out-of-band notification sink. Defaults to a no-op.
func (b *Builder) WithNotifier(sink Notifier) *Builder {
	b.notifier = sink
	return b
}

// WithClock overrides the time source. Defaults to time.Now.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and dependencies and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.store == nil {
		return nil, errors.New("store is required")
	}
	if b.users == nil {
		return nil, errors.New("user provider is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := token.NewCodec(token.Config{
		Secret:       b.config.Token.Secret,
		Issuer:       b.config.Token.Issuer,
		AccessTTL:    b.config.Token.AccessTTL,
		RefreshTTL:   b.config.Token.RefreshTTL,
		TwoFactorTTL: b.config.Token.TwoFactorTTL,
		Leeway:       b.config.Token.Leeway,
		Now:          func() time.Time { return clock() },
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	twoFactor, err := newTwoFactorManager(b.config.TwoFactor, clock)
	if err != nil {
		return nil, err
	}

	limiter := rate.New(b.redis, rate.Config{
		KeyPrefix:        b.config.RateLimit.KeyPrefix,
		Rules:            rateRules(b.config.RateLimit),
		DefaultLimit:     b.config.RateLimit.DefaultLimit,
		DefaultWindow:    b.config.RateLimit.DefaultWindow,
		FailOpenCooldown: b.config.RateLimit.FailOpenCooldown,
		Now:              func() time.Time { return clock() },
		Logger:           logger,
	})

	engine := &Engine{
		config:    b.config,
		store:     b.store,
		users:     b.users,
		codec:     codec,
		hasher:    hasher,
		limiter:   limiter,
		twoFactor: twoFactor,
		metrics:   newMetrics(),
		locks:     &accountLocks{},
		clock:     clock,
		logger:    logger,
	}
	engine.notify = newNotifyDispatcher(b.config.Notify, b.notifier, logger)
	engine.lockout = newLockoutTracker(b.store, b.config.Lockout, clock, engine.locks, engine.notify.Emit)

	return engine, nil
}
