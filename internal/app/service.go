package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"notes/api/internal/assets"
	"notes/api/internal/config"
	"notes/api/internal/content"
	"notes/api/internal/editor"
	"notes/api/internal/export"
	"notes/api/internal/feed"
	"notes/api/internal/search"
	"notes/api/internal/store"
	"notes/api/internal/util"
)

const (
	previewLength  = 160
	maxTitleLength = 200
	untitled       = "Untitled"
)

// Document is a page with its decoded content tree.
type Document struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Content   *content.Node `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Summary is the list view of a page.
type Summary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Preview     string    `json:"preview"`
	ReadMinutes int       `json:"readMinutes"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DocumentFields is a partial document update; nil fields are left unchanged.
type DocumentFields struct {
	Title   *string
	Content *content.Node
}

type pageStore interface {
	InsertPage(context.Context, store.Page) (store.Page, error)
	GetPage(context.Context, string, string) (store.Page, error)
	UpdatePage(context.Context, string, string, store.PageFields) (store.Page, error)
	DeletePage(context.Context, string, string) error
	ListPages(context.Context, string) ([]store.Page, error)
	Ping(ctx context.Context) error
}

// ChangeFeed carries per-owner page change events between instances.
type ChangeFeed interface {
	Publish(context.Context, feed.Event) error
	Subscribe(context.Context, string, feed.Handler) (func(), error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexPage(search.PageRecord)
	DeletePage(string)
}

type exporter interface {
	Export(ctx context.Context, title string, doc *content.Node, format export.Format) (*export.Result, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    pageStore
	Assets   editor.AssetStore
	Resolver *content.Resolver
	Feed     ChangeFeed
	Search   searchIndex
	Exporter exporter
}

type Service struct {
	cfg      config.Config
	store    pageStore
	assets   editor.AssetStore
	resolver *content.Resolver
	feed     ChangeFeed
	search   searchIndex
	exporter exporter
	editors  *editor.Manager
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		assets:   deps.Assets,
		resolver: deps.Resolver,
		feed:     deps.Feed,
		search:   deps.Search,
		exporter: deps.Exporter,
	}
	if s.feed == nil {
		s.feed = feed.NewLocalFeed()
	}
	if s.exporter == nil {
		s.exporter = export.NewService(nil)
	}
	s.editors = editor.NewManager(s, s.assets, editor.Config{
		AutosaveDelay: cfg.AutosaveDelay,
		ErrorWindow:   cfg.ErrorWindow,
		UploadTimeout: cfg.UploadTimeout,
		IdleTTL:       cfg.SessionTTL,
		Resolver:      deps.Resolver,
	})
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Run drives background maintenance until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.editors.Run(ctx)
}

// Shutdown saves and closes every open editor session.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.editors.Shutdown(ctx)
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return untitled, nil
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return title, nil
}

func toDocument(page store.Page) Document {
	return Document{
		ID:        page.ID,
		Title:     page.Title,
		Content:   content.DecodeOrEmpty(page.Content),
		CreatedAt: page.CreatedAt,
		UpdatedAt: page.UpdatedAt,
	}
}

func toSummary(page store.Page) Summary {
	doc := content.DecodeOrEmpty(page.Content)
	return Summary{
		ID:          page.ID,
		Title:       page.Title,
		Preview:     content.ExtractPreviewText(doc, previewLength),
		ReadMinutes: content.EstimateReadMinutes(doc),
		UpdatedAt:   page.UpdatedAt,
	}
}

func (s *Service) searchRecord(page store.Page) search.PageRecord {
	return search.PageRecord{
		ID:          page.ID,
		OwnerID:     page.OwnerID,
		Title:       page.Title,
		Body:        page.SearchText,
		ReadMinutes: content.ReadMinutesForWords(len(strings.Fields(page.SearchText))),
		UpdatedAt:   page.UpdatedAt.Unix(),
	}
}

func (s *Service) announce(ctx context.Context, ownerID, pageID string, op feed.Op) {
	if err := s.feed.Publish(ctx, feed.Event{OwnerID: ownerID, PageID: pageID, Op: op}); err != nil {
		log.Warn().Err(err).Str("page", pageID).Msg("app: publish page change")
	}
}

func (s *Service) CreateDocument(ctx context.Context, ownerID, title string, doc *content.Node) (Document, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return Document{}, err
	}
	if doc == nil {
		doc = content.NewDoc()
	}
	encoded, err := content.Encode(doc)
	if err != nil {
		return Document{}, err
	}

	page, err := s.store.InsertPage(ctx, store.Page{
		ID:         util.NewID("pg"),
		OwnerID:    ownerID,
		Title:      title,
		Content:    encoded,
		SearchText: content.PlainText(doc),
	})
	if err != nil {
		return Document{}, err
	}

	s.announce(ctx, ownerID, page.ID, feed.OpCreated)
	if s.search != nil {
		s.search.IndexPage(s.searchRecord(page))
	}
	return toDocument(page), nil
}

func (s *Service) ReadDocument(ctx context.Context, ownerID, pageID string) (Document, error) {
	page, err := s.store.GetPage(ctx, ownerID, pageID)
	if err != nil {
		return Document{}, err
	}
	return toDocument(page), nil
}

// WriteDocument applies a partial update. Content is stored in its string-encoded form along
// with the plain text used for full-text search.
func (s *Service) WriteDocument(ctx context.Context, ownerID, pageID string, fields DocumentFields) (Document, error) {
	var update store.PageFields
	if fields.Title != nil {
		title, err := normalizeTitle(*fields.Title)
		if err != nil {
			return Document{}, err
		}
		update.Title = &title
	}
	if fields.Content != nil {
		encoded, err := content.Encode(fields.Content)
		if err != nil {
			return Document{}, err
		}
		searchText := content.PlainText(fields.Content)
		update.Content = &encoded
		update.SearchText = &searchText
	}

	page, err := s.store.UpdatePage(ctx, ownerID, pageID, update)
	if err != nil {
		return Document{}, err
	}
	if update.Title != nil || update.Content != nil {
		s.announce(ctx, ownerID, page.ID, feed.OpUpdated)
		if s.search != nil {
			s.search.IndexPage(s.searchRecord(page))
		}
	}
	return toDocument(page), nil
}

// DeleteDocument removes the page, discards its editor sessions and deletes every image it
// referenced. Image deletes are best-effort.
func (s *Service) DeleteDocument(ctx context.Context, ownerID, pageID string) error {
	page, err := s.store.GetPage(ctx, ownerID, pageID)
	if err != nil {
		return err
	}
	s.editors.DiscardPage(ownerID, pageID)
	if err := s.store.DeletePage(ctx, ownerID, pageID); err != nil {
		return err
	}

	s.announce(ctx, ownerID, pageID, feed.OpDeleted)
	if s.search != nil {
		s.search.DeletePage(pageID)
	}
	var owned []string
	for _, ref := range content.ExtractReferences(content.DecodeOrEmpty(page.Content), s.resolver).Sorted() {
		if assets.OwnedBy(ownerID, ref) {
			owned = append(owned, ref)
		}
	}
	if len(owned) > 0 && s.assets != nil {
		go s.deleteAssets(owned)
	}
	return nil
}

func (s *Service) deleteAssets(paths []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, p := range paths {
		if err := s.assets.DeleteAsset(ctx, p); err != nil {
			log.Warn().Err(err).Str("asset", p).Msg("app: delete page asset")
		}
	}
}

// ListDocuments returns the owner's pages, most recently updated first.
func (s *Service) ListDocuments(ctx context.Context, ownerID string) ([]Summary, error) {
	pages, err := s.store.ListPages(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items := make([]Summary, 0, len(pages))
	for _, page := range pages {
		items = append(items, toSummary(page))
	}
	return items, nil
}

// Subscribe pushes the owner's full ordered page list to fn now and after every change, until
// the returned function is called or ctx ends. Pushes are never concurrent.
func (s *Service) Subscribe(ctx context.Context, ownerID string, fn func([]Summary)) (func(), error) {
	var mu sync.Mutex
	push := func() {
		mu.Lock()
		defer mu.Unlock()
		listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		items, err := s.ListDocuments(listCtx, ownerID)
		if err != nil {
			log.Warn().Err(err).Str("owner", ownerID).Msg("app: subscription list failed")
			return
		}
		fn(items)
	}

	unsubscribe, err := s.feed.Subscribe(ctx, ownerID, func(feed.Event) { push() })
	if err != nil {
		return nil, err
	}
	push()
	return unsubscribe, nil
}

func (s *Service) UploadAsset(ctx context.Context, ownerID string, upload assets.Upload) (assets.Asset, error) {
	if s.assets == nil {
		return assets.Asset{}, errStorageUnavailable
	}
	return s.assets.UploadAsset(ctx, ownerID, upload)
}

// DeleteAsset removes one of the owner's stored images.
func (s *Service) DeleteAsset(ctx context.Context, ownerID, storagePath string) error {
	if s.assets == nil {
		return errStorageUnavailable
	}
	if !assets.OwnedBy(ownerID, storagePath) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Asset does not belong to caller", nil)
	}
	return s.assets.DeleteAsset(ctx, storagePath)
}

// ImportMarkdown creates a page from Markdown source.
func (s *Service) ImportMarkdown(ctx context.Context, ownerID, title, markdown string) (Document, error) {
	return s.CreateDocument(ctx, ownerID, title, content.FromMarkdown([]byte(markdown)))
}

func (s *Service) Export(ctx context.Context, ownerID, pageID string, format export.Format) (*export.Result, error) {
	if format == export.FormatPDF && !s.cfg.PrintEnabled {
		return nil, export.ErrPrintUnavailable
	}
	doc, err := s.ReadDocument(ctx, ownerID, pageID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, doc.Title, doc.Content, format)
}

func (s *Service) Search(ctx context.Context, ownerID, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}
	}
	return s.search.Search(ctx, search.Query{OwnerID: ownerID, Text: text, Limit: limit, Offset: offset})
}

// LoadContent and SaveContent let editor sessions persist through the service so saves are
// published and indexed like any other write.
func (s *Service) LoadContent(ctx context.Context, ownerID, pageID string) (*content.Node, error) {
	doc, err := s.ReadDocument(ctx, ownerID, pageID)
	if err != nil {
		return nil, err
	}
	return doc.Content, nil
}

func (s *Service) SaveContent(ctx context.Context, ownerID, pageID string, doc *content.Node) error {
	_, err := s.WriteDocument(ctx, ownerID, pageID, DocumentFields{Content: doc})
	return err
}

func (s *Service) OpenSession(ctx context.Context, ownerID, pageID string) (editor.View, error) {
	if s.assets == nil {
		return editor.View{}, errStorageUnavailable
	}
	session, err := s.editors.Open(ctx, ownerID, pageID)
	if err != nil {
		return editor.View{}, err
	}
	return session.Snapshot(false), nil
}

func (s *Service) EditorSession(ownerID, sessionID string) (*editor.Session, error) {
	return s.editors.Get(ownerID, sessionID)
}

func (s *Service) CloseSession(ctx context.Context, ownerID, sessionID string, discard bool) error {
	return s.editors.Close(ctx, ownerID, sessionID, discard)
}

func (s *Service) TokenSecret() []byte {
	return []byte(s.cfg.TokenSecret)
}
