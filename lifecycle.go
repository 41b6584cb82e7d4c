package offlineproxy

import (
	"context"
	"fmt"
	"net/http"
)

// Install opens the bucket named by the version tag and populates it
// with the configured asset list. Every asset must be fetched and
// stored before Install returns; the first failure aborts the install.
func (wk *Worker) Install(ctx context.Context) error {
	bucket, err := wk.store.Open(wk.version)
	if err != nil {
		return fmt.Errorf("open bucket %q: %w", wk.version, err)
	}

	for _, path := range wk.assets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		res, err := wk.fetch(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		b, err := responseToBytes(res)
		res.Body.Close()
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		if err := bucket.Put(requestKey(req), b); err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		wk.log.Trace().Str("path", path).Msg("Precached asset")
	}

	wk.bucket = bucket
	wk.log.Info().Int("assets", len(wk.assets)).Msg("Install complete")
	return nil
}

// Activate deletes every bucket whose name does not match the version
// tag and then claims control, i.e. starts intercepting requests.
// Activating again with the same version tag is a no-op prune.
func (wk *Worker) Activate() error {
	// a restarted worker may activate without a fresh install
	if wk.bucket == nil {
		bucket, err := wk.store.Open(wk.version)
		if err != nil {
			return fmt.Errorf("open bucket %q: %w", wk.version, err)
		}
		wk.bucket = bucket
	}

	names, err := wk.store.Names()
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, name := range names {
		if name == wk.version {
			continue
		}
		if err := wk.store.Delete(name); err != nil {
			return fmt.Errorf("delete bucket %q: %w", name, err)
		}
		wk.log.Debug().Str("bucket", name).Msg("Deleted stale bucket")
	}

	wk.controlling.Store(true)
	wk.log.Info().Msg("Activate complete, claiming control")
	return nil
}

// Controlling reports whether the worker has claimed control of
// incoming requests. Before activation the worker proxies requests
// without touching the cache.
func (wk *Worker) Controlling() bool {
	return wk.controlling.Load()
}
