// Package storage persists the bot's durable state:
//   - the tenant -> control channel map set by /setup
//   - the audience (recipient candidates) seen in each tenant chat
//   - a journal of finished dispatch jobs
//
// Drivers: "file" (snapshot + journal, no dependencies), "sqlite" and
// "redis". Open returns (nil, nil) when storage is disabled; callers then
// fall back to NewMemory.
package storage
