// Package rate implements the Redis-backed counters behind login and refresh
// throttling.
//
// # Window semantics
//
// Fixed-window counters: a Lua script runs INCR and starts the window with
// PEXPIRE on the first hit, atomically. Reads are pipelined. Keys live
// under a configurable prefix:
//   - <prefix>:al:<identifier>: failed logins per identifier
//   - <prefix>:ali:<ip>: failed logins per client IP
//   - <prefix>:ar:<subject>: refreshes per account
//   - <prefix>:rg:<identifier>: registrations per identifier
//   - <prefix>:rgi:<ip>: registrations per client IP
//
// A login is refused once the failure counter reaches MaxLoginAttempts; a
// refresh or registration is refused once its counter exceeds the maximum.
//
// # What this package must NOT do
//
//   - Decide how a throttled request is reported to the client.
//   - Be imported outside the authcore module.
package rate
