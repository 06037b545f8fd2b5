package health

import (
	"context"
	"runtime"

	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
)

// Pinger is implemented by archive backends with a cheap connectivity
// check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IntegrityCheck re-hashes the latest stored snapshot and reports
// unhealthy when it no longer matches its key. An empty store is healthy.
func IntegrityCheck(latest func() *graph.Snapshot) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "integrity", Details: make(map[string]any)}

		snap := latest()
		if snap == nil || snap.IntegrityHash == "" {
			check.Status = StatusHealthy
			check.Message = "No versions stored"
			return check
		}
		check.Details["hash"] = snap.IntegrityHash
		check.Details["version"] = snap.Version

		ok, computed, err := hasher.VerifySnapshot(snap)
		switch {
		case err != nil:
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		case !ok:
			check.Status = StatusUnhealthy
			check.Message = "Latest snapshot does not match its hash"
			check.Details["computed"] = computed
		default:
			check.Status = StatusHealthy
			check.Message = "Latest snapshot verified"
		}
		return check
	}
}

// ArchiveCheck checks the archive backend. Backends without Ping are
// checked with a listing of the snapshot prefix.
func ArchiveCheck(backend archive.Backend) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "archive", Details: map[string]any{"backend": backend.Name()}}

		var err error
		if p, ok := backend.(Pinger); ok {
			err = p.Ping(ctx)
		} else {
			var keys []string
			keys, err = backend.List(ctx, archive.SnapshotPrefix)
			check.Details["objects"] = len(keys)
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}
		return check
	}
}

// MemoryCheck reports degraded once the heap exceeds limit bytes. A zero
// limit only reports usage.
func MemoryCheck(limit uint64) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "memory", Details: make(map[string]any)}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		check.Details["heap_alloc_bytes"] = m.HeapAlloc
		check.Details["sys_bytes"] = m.Sys
		check.Details["goroutines"] = runtime.NumGoroutine()

		if limit > 0 && m.HeapAlloc > limit {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}
		return check
	}
}
