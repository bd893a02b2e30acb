//go:build unix

package fmap

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// BackgroundUnmap selects whether a retired window is unmapped on a
// shared background goroutine (the default) or inline on the calling
// (producer) thread. spec.md §4.1 motivates the background path: munmap
// latency under memory pressure can stall the hot thread for tens of
// milliseconds, a false latency spike that would show up in the trace
// itself. Platforms or deployments where the background goroutine isn't
// wanted can flip this at process start, mirroring the original
// implementation's FMAP_BACKGROUND_MUNMAP build flag (spec.md §9).
var BackgroundUnmap = true

// unmapQueue is the process-wide, depth-1 channel feeding the single
// background unmap goroutine (spec.md §5: "single-producer
// single-consumer bounded channel per fmap (depth 1)... shared across the
// process"). Every Writer's retired windows funnel through this one
// queue; a full queue blocks the producer rather than dropping work,
// since unbounded memory growth is worse than backpressure (spec.md §5).
var (
	unmapQueue = make(chan []byte, 1)
	unmapStart sync.Once
)

func startUnmapWorker() {
	unmapStart.Do(func() {
		go func() {
			for region := range unmapQueue {
				if err := unix.Munmap(region); err != nil {
					slog.Default().Error("fmap: background munmap failed", "error", err)
				}
			}
		}()
	})
}

// detachAndMap retires the superseded window (unmapping it in the
// background or inline per BackgroundUnmap) and maps the new 2*mapSize
// window at newBase, replacing w.window/w.windowBase. region must be
// exactly the slice unix.Mmap returned for the mapping being retired:
// Munmap rejects any slice whose len differs from its cap.
func detachAndMap(w *Writer, region []byte, newBase uint64) error {
	if BackgroundUnmap {
		startUnmapWorker()
		unmapQueue <- region // blocks if the single slot is occupied
		return w.mapWindow(newBase)
	}
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("fmap: munmap retired window: %w", err)
	}
	return w.mapWindow(newBase)
}
