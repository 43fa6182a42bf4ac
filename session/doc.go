// Package session houses core.SessionStore implementations and the
// per-session lockers that serialize turns.
//
// InMemoryStore keeps sessions for the lifetime of the process (with optional
// TTL eviction); RedisStore shares them between replicas. LocalLocker and
// RedisLocker provide the session-scoped mutual exclusion a TurnExecutor
// holds for the duration of a turn.
package session
