// Package cli implements the numbered interactive task menu.
//
// The menu reads one answer per line, re-prompts until priorities are in
// 1-5 and dates parse as YYYY-MM-DD, and hands the whole collection to a
// persist.Persister after every command. A failed save is reported and
// the session continues with the in-memory state.
package cli
