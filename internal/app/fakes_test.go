package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"notes/api/internal/assets"
	"notes/api/internal/auth"
	"notes/api/internal/config"
	"notes/api/internal/feed"
	"notes/api/internal/search"
	"notes/api/internal/store"
)

const testSecret = "test-secret"

// fakeStore keeps pages in memory. Function fields override individual operations.
type fakeStore struct {
	mu     sync.Mutex
	pages  map[string]store.Page
	clock  time.Time
	pingFn func(context.Context) error
	getFn  func(ctx context.Context, ownerID, pageID string) (store.Page, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[string]store.Page), clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) InsertPage(_ context.Context, page store.Page) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page.CreatedAt = f.tick()
	page.UpdatedAt = page.CreatedAt
	f.pages[page.ID] = page
	return page, nil
}

func (f *fakeStore) GetPage(ctx context.Context, ownerID, pageID string) (store.Page, error) {
	if f.getFn != nil {
		return f.getFn(ctx, ownerID, pageID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok || page.OwnerID != ownerID {
		return store.Page{}, store.ErrNotFound
	}
	return page, nil
}

func (f *fakeStore) UpdatePage(_ context.Context, ownerID, pageID string, fields store.PageFields) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok || page.OwnerID != ownerID {
		return store.Page{}, store.ErrNotFound
	}
	if fields.Title == nil && fields.Content == nil && fields.SearchText == nil {
		return page, nil
	}
	if fields.Title != nil {
		page.Title = *fields.Title
	}
	if fields.Content != nil {
		page.Content = *fields.Content
	}
	if fields.SearchText != nil {
		page.SearchText = *fields.SearchText
	}
	page.UpdatedAt = f.tick()
	f.pages[pageID] = page
	return page, nil
}

func (f *fakeStore) DeletePage(_ context.Context, ownerID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok || page.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(f.pages, pageID)
	return nil
}

func (f *fakeStore) ListPages(_ context.Context, ownerID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Page, 0)
	for _, page := range f.pages {
		if page.OwnerID == ownerID {
			items = append(items, page)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) get(pageID string) (store.Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	return page, ok
}

type fakeAssets struct {
	// gate, when set, holds uploads until it is closed.
	gate    chan struct{}
	mu      sync.Mutex
	count   int
	deleted []string
}

func (f *fakeAssets) UploadAsset(_ context.Context, ownerID string, upload assets.Upload) (assets.Asset, error) {
	objectPath, _, err := assets.ObjectPath(ownerID, upload)
	if err != nil {
		return assets.Asset{}, err
	}
	if _, err := io.Copy(io.Discard, upload.Body); err != nil {
		return assets.Asset{}, err
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	return assets.Asset{URI: "https://cdn.test/notes/" + objectPath, StoragePath: objectPath}, nil
}

func (f *fakeAssets) DeleteAsset(_ context.Context, storagePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, storagePath)
	return nil
}

func (f *fakeAssets) deletedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string{}, f.deleted...)
	sort.Strings(out)
	return out
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.PageRecord
	deleted []string
	queries []search.Query
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: make(map[string]search.PageRecord)}
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	results := make([]search.Result, 0)
	for _, record := range f.indexed {
		if record.OwnerID == q.OwnerID {
			results = append(results, search.Result{ID: record.ID, Title: record.Title})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexPage(record search.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[record.ID] = record
}

func (f *fakeSearch) DeletePage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) record(id string) (search.PageRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.indexed[id]
	return record, ok
}

type testEnv struct {
	store  *fakeStore
	assets *fakeAssets
	search *fakeSearch
	feed   *feed.LocalFeed
	svc    *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:  newFakeStore(),
		assets: &fakeAssets{},
		search: newFakeSearch(),
		feed:   feed.NewLocalFeed(),
	}
	env.svc = New(config.Config{
		TokenSecret:    testSecret,
		AutosaveDelay:  20 * time.Millisecond,
		ErrorWindow:    time.Second,
		UploadTimeout:  time.Second,
		SessionTTL:     time.Minute,
		MaxUploadBytes: 1 << 20,
	}, Deps{
		Store:  env.store,
		Assets: env.assets,
		Feed:   env.feed,
		Search: env.search,
	})
	return env
}

func testToken(ownerID string) string {
	token, err := auth.Issue([]byte(testSecret), ownerID, time.Hour)
	if err != nil {
		panic(fmt.Sprintf("issue token: %v", err))
	}
	return token
}
