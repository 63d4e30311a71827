// Package authcore is a credential and session security engine for
// request-concurrent authentication backends. It issues and verifies signed
// access/refresh tokens, enforces brute-force lockout, applies sliding-window
// rate limits over Redis, and manages TOTP and backup-code second factors.
//
// The package is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy, and value types (LoginResult, RateLimitResult,
// TwoFactorSetup, etc.). Token and password mechanics live in the token and
// password subpackages; the rate limiter lives under internal/ and is reached
// through [Engine.CheckRateLimit].
//
// # Architecture boundaries
//
// authcore owns no transport and no schema. It consumes a [Store] for
// refresh-token, lockout and two-factor records, a [UserProvider] for account
// lookups, a Redis client as the rate-limit counter store, and a [Notifier]
// for out-of-band events. The HTTP layer maps the engine's errors to status
// codes; the persistence layer maps the record types to its schema.
//
// # Concurrency
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Lockout and two-factor record mutations are serialized
// per account; rate-limit bucket mutations are atomic per key (single Lua
// script). Password hashing is CPU-bound by design and is never performed
// while an account lock is held.
//
// # Failure posture
//
// Credential and token failures are deliberately indistinct
// ([ErrInvalidCredentials], [ErrTokenInvalid]) to prevent account and token
// enumeration. Lockout and rate-limit failures carry a retry time. A Redis
// outage fails the rate limiter open with a logged warning; store outages
// everywhere else fail the operation.
package authcore
