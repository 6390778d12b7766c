package editor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"notes/api/internal/assets"
	"notes/api/internal/content"
)

const deleteTimeout = 30 * time.Second

// ImageTracker remembers which images the last saved version referenced and deletes the
// ones a newer saved version no longer references. Only objects under the owner's prefix are
// ever deleted.
type ImageTracker struct {
	deleter  func(ctx context.Context, storagePath string) error
	resolver *content.Resolver
	ownerID  string

	mu       sync.Mutex
	previous content.RefSet
	// fresh holds uploads committed since the last sweep, keyed by the mark they were
	// tracked at.
	fresh map[string]uint64
	seq   uint64
	wg    sync.WaitGroup
}

// NewImageTracker seeds the tracker with the references of the stored document.
func NewImageTracker(deleter func(ctx context.Context, storagePath string) error, resolver *content.Resolver, ownerID string, stored *content.Node) *ImageTracker {
	return &ImageTracker{
		deleter:  deleter,
		resolver: resolver,
		ownerID:  ownerID,
		previous: content.ExtractReferences(stored, resolver),
		fresh:    make(map[string]uint64),
	}
}

// Track adds a newly committed upload to the baseline, so a later sweep deletes it if it is
// gone from the saved document.
func (t *ImageTracker) Track(storagePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.fresh[storagePath] = t.seq
}

// Mark returns the current tracking position. Take it together with the document snapshot
// that will be passed to Sweep.
func (t *ImageTracker) Mark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Sweep must be called after doc was written successfully; mark is the value of Mark when doc
// was captured. It submits a delete for every identifier the previous version referenced and
// doc does not, then makes doc's references the new baseline whatever the deletes' outcome.
// Uploads tracked after mark are kept for the next sweep. Deletes are asynchronous and never
// retried.
func (t *ImageTracker) Sweep(doc *content.Node, mark uint64) []string {
	current := content.ExtractReferences(doc, t.resolver)

	t.mu.Lock()
	candidates := t.previous.Minus(current)
	for id, tracked := range t.fresh {
		if tracked > mark {
			continue
		}
		delete(t.fresh, id)
		if !current.Has(id) && !t.previous.Has(id) {
			candidates = append(candidates, id)
		}
	}
	t.previous = current
	t.mu.Unlock()

	sort.Strings(candidates)
	orphans := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if !assets.OwnedBy(t.ownerID, id) {
			log.Debug().Str("asset", id).Str("owner", t.ownerID).Msg("editor: not deleting foreign image")
			continue
		}
		orphans = append(orphans, id)
		t.Delete(id)
	}
	return orphans
}

// Delete removes one of the owner's assets in the background; failures are logged. Paths
// outside the owner's prefix are ignored.
func (t *ImageTracker) Delete(storagePath string) {
	if !assets.OwnedBy(t.ownerID, storagePath) {
		log.Warn().Str("asset", storagePath).Str("owner", t.ownerID).Msg("editor: refusing to delete foreign asset")
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := t.deleter(ctx, storagePath); err != nil {
			log.Warn().Err(err).Str("asset", storagePath).Msg("editor: asset delete failed")
			return
		}
		log.Debug().Str("asset", storagePath).Msg("editor: deleted asset")
	}()
}

// Previous returns a copy of the current baseline.
func (t *ImageTracker) Previous() content.RefSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return content.NewRefSet(t.previous.Sorted()...)
}

// Wait blocks until every submitted delete has finished.
func (t *ImageTracker) Wait() {
	t.wg.Wait()
}
