// Package bot is the Telegram command layer around the dispatch engine.
//
// It parses owner commands, tracks each tenant chat's audience, gates job
// starts behind an inline confirmation, and renders progress by editing a
// status message. Tenants are Telegram chat IDs.
package bot
