// Package fmap implements the sliding mmap writer described in spec.md
// §4.1: an append-only byte sink over a file descriptor whose steady-state
// cost is a bounds check and a memcpy, backed by a double-wide mmap window
// that slides forward as the file grows.
package fmap

import "errors"

// ErrTooLarge is returned by Reserve when n exceeds the configured
// map_size; a single record must fit within one half-window.
var ErrTooLarge = errors.New("fmap: reserve size exceeds map_size")

// ErrClosed is returned by Reserve on a Writer after Close. A second
// Close returns nil.
var ErrClosed = errors.New("fmap: writer is closed")

// DefaultMapSize is the default half-window size (spec.md §6).
const DefaultMapSize = 2 << 20 // 2 MiB
