// Package state keeps per-user conversation sessions for Telegram bots.
//
// Store is generic over the session type so bots can use a sealed interface
// for their steps instead of string tags and untyped scratch data. All access
// to one key is serialized; different keys proceed in parallel.
package state
