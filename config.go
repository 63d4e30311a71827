package authcore

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/sessionlock/authcore/internal/rate"
)

// Config carries every tunable of the engine. Thresholds are threaded into
// each component at Build time; nothing reads ambient global state.
type Config struct {
	Token           TokenConfig
	Password        PasswordConfig
	Lockout         LockoutConfig
	TwoFactor       TwoFactorConfig
	RateLimit       RateLimitConfig
	Notify          NotifyConfig
	RolePermissions map[string][]string
}

// TokenConfig configures the signed token codec. Secret is the shared HS256
// signing key and must be at least 32 bytes.
type TokenConfig struct {
	Secret       []byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	TwoFactorTTL time.Duration
	Leeway       time.Duration
}

// PasswordConfig configures argon2id hashing. Memory is in KB.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// LockoutConfig configures the per-account failed-attempt lockout.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// TwoFactorConfig configures TOTP and backup codes. EncryptionKey seals the
// backup-code hash list at rest and must be exactly 32 bytes (AES-256).
type TwoFactorConfig struct {
	Issuer        string
	Digits        int
	Period        uint
	Skew          uint
	BackupCodes   int
	MaxAttempts   int
	Lockout       time.Duration
	EncryptionKey []byte
}

// RateLimitClass pairs a path prefix with a (limit, window) budget. The
// longest matching prefix wins.
type RateLimitClass struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// RateLimitConfig configures the sliding-window limiter. DefaultLimit and
// DefaultWindow apply when no class prefix matches.
type RateLimitConfig struct {
	KeyPrefix     string
	Classes       []RateLimitClass
	DefaultLimit  int
	DefaultWindow time.Duration

	// FailOpenCooldown is how long the limiter stops probing Redis after an
	// infrastructure failure, admitting all requests meanwhile.
	FailOpenCooldown time.Duration
}

// NotifyConfig configures the async notification dispatcher.
type NotifyConfig struct {
	BufferSize int
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:       "authcore",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   30 * 24 * time.Hour,
			TwoFactorTTL: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    30 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:      "authcore",
			Digits:      6,
			Period:      30,
			Skew:        1,
			BackupCodes: 10,
			MaxAttempts: 5,
			Lockout:     5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			KeyPrefix: "rl",
			Classes: []RateLimitClass{
				{Prefix: "/auth/login", Limit: 5, Window: 5 * time.Minute},
				{Prefix: "/auth/register", Limit: 5, Window: 5 * time.Minute},
				{Prefix: "/auth/forgot-password", Limit: 3, Window: time.Hour},
				{Prefix: "/auth/reset-password", Limit: 3, Window: time.Hour},
			},
			DefaultLimit:     100,
			DefaultWindow:    time.Minute,
			FailOpenCooldown: 30 * time.Second,
		},
		Notify: NotifyConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = slices.Clone(cfg.Token.Secret)
	out.TwoFactor.EncryptionKey = slices.Clone(cfg.TwoFactor.EncryptionKey)
	out.RateLimit.Classes = slices.Clone(cfg.RateLimit.Classes)
	if cfg.RolePermissions != nil {
		out.RolePermissions = make(map[string][]string, len(cfg.RolePermissions))
		for role, perms := range cfg.RolePermissions {
			out.RolePermissions[role] = slices.Clone(perms)
		}
	}
	return out
}

func validateConfig(cfg Config) error {
	if len(cfg.Token.Secret) < 32 {
		return errors.New("token secret must be at least 32 bytes")
	}
	if cfg.Token.AccessTTL <= 0 || cfg.Token.RefreshTTL <= 0 || cfg.Token.TwoFactorTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if cfg.Token.Leeway < 0 || cfg.Token.Leeway > 2*time.Minute {
		return errors.New("token leeway must be within [0, 2m]")
	}
	if cfg.Lockout.MaxAttempts <= 0 || cfg.Lockout.Duration <= 0 {
		return errors.New("lockout threshold and duration must be positive")
	}
	if cfg.TwoFactor.Digits != 6 && cfg.TwoFactor.Digits != 8 {
		return errors.New("two-factor digits must be 6 or 8")
	}
	if cfg.TwoFactor.Period == 0 {
		return errors.New("two-factor period must be positive")
	}
	if cfg.TwoFactor.BackupCodes <= 0 {
		return errors.New("backup code count must be positive")
	}
	if cfg.TwoFactor.MaxAttempts <= 0 || cfg.TwoFactor.Lockout <= 0 {
		return errors.New("two-factor attempt threshold and lockout must be positive")
	}
	if len(cfg.TwoFactor.EncryptionKey) != 32 {
		return errors.New("two-factor encryption key must be 32 bytes")
	}
	if cfg.RateLimit.DefaultLimit <= 0 || cfg.RateLimit.DefaultWindow <= 0 {
		return errors.New("rate limit default budget must be positive")
	}
	for _, class := range cfg.RateLimit.Classes {
		if class.Prefix == "" || class.Limit <= 0 || class.Window <= 0 {
			return fmt.Errorf("invalid rate limit class %q", class.Prefix)
		}
	}
	return nil
}

func rateRules(cfg RateLimitConfig) []rate.Rule {
	rules := make([]rate.Rule, 0, len(cfg.Classes))
	for _, class := range cfg.Classes {
		rules = append(rules, rate.Rule{
			Prefix: class.Prefix,
			Limit:  class.Limit,
			Window: class.Window,
		})
	}
	return rules
}

// permissionsForRoles is the deterministic role→permission mapping used at
// login and refresh time. Output is sorted and de-duplicated so identical
// role state always yields identical claims.
func permissionsForRoles(mapping map[string][]string, roles []string) []string {
	set := map[string]struct{}{}
	for _, role := range roles {
		for _, perm := range mapping[role] {
			set[perm] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}
