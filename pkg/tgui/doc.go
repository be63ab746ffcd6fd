// Package tgui provides small Telegram UI helpers:
//   - HTML-safe text fragments for ParseMode="HTML"
//   - A message builder with sensible defaults and inline buttons
//   - Callback data helpers (namespace:action:payload)
package tgui
