// Package store provides session metadata and usage persistence backed by
// SQLite, plus an in-memory mock for tests.
//
// Only lifecycle metadata is persisted: session id, state, error code,
// working directory, timestamps, and token totals. Prompts and event
// payloads never touch the database.
package store
