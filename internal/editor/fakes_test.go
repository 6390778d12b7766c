package editor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"notes/api/internal/assets"
	"notes/api/internal/content"
)

type fakePages struct {
	mu      sync.Mutex
	stored  *content.Node
	loadErr error
	saveErr error
	saves   []*content.Node
}

func (f *fakePages) LoadContent(_ context.Context, ownerID, pageID string) (*content.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.stored.Clone(), nil
}

func (f *fakePages) SaveContent(_ context.Context, ownerID, pageID string, doc *content.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, doc.Clone())
	f.stored = doc.Clone()
	return nil
}

func (f *fakePages) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakePages) lastSaved() *content.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return nil
	}
	return f.saves[len(f.saves)-1]
}

type fakeAssets struct {
	// release, when set, blocks uploads until it is closed.
	release   chan struct{}
	uploadErr error
	deleteErr error

	mu      sync.Mutex
	uploads []assets.Upload
	deleted []string
}

func (f *fakeAssets) UploadAsset(ctx context.Context, ownerID string, upload assets.Upload) (assets.Asset, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return assets.Asset{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, upload)
	f.mu.Unlock()
	if f.uploadErr != nil {
		return assets.Asset{}, f.uploadErr
	}
	storagePath := "users/" + ownerID + "/images/" + upload.Name
	return assets.Asset{URI: testResolver.ObjectURL(storagePath), StoragePath: storagePath}, nil
}

func (f *fakeAssets) DeleteAsset(_ context.Context, storagePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, storagePath)
	return f.deleteErr
}

func (f *fakeAssets) deletedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.deleted...)
	sort.Strings(out)
	return out
}

var errBoom = errors.New("boom")

var testResolver = mustResolver("https://files.example.com/notes")

func mustResolver(base string) *content.Resolver {
	r, err := content.NewResolver(base)
	if err != nil {
		panic(err)
	}
	return r
}

func storedImage(storagePath string) *content.Node {
	return &content.Node{Kind: content.KindImage, Attrs: content.Attrs{Src: testResolver.ObjectURL(storagePath), StoragePath: storagePath}}
}

func paragraph(children ...*content.Node) *content.Node {
	return content.NewBlock(content.KindParagraph, children...)
}

func images(doc *content.Node) []*content.Node {
	var found []*content.Node
	content.Walk(doc, func(node, _ *content.Node) bool {
		if node.Kind == content.KindImage {
			found = append(found, node)
		}
		return true
	})
	return found
}
