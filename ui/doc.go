// Package ui renders a live terminal board of the task collection.
//
// The board subscribes to task events on a message bus and reloads the
// collection after each one, so it follows changes made by any process
// sharing the same backend.
package ui
