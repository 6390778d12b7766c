package editor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notes/api/internal/assets"
	"notes/api/internal/content"
)

// PreviewScheme prefixes the src of a placeholder image. The rest of the src is the upload id
// under which the session serves the local preview bytes.
const PreviewScheme = "preview:"

// UploadState tracks one image from insertion to its final outcome.
type UploadState string

const (
	UploadPlaceholder UploadState = "placeholder"
	UploadUploaded    UploadState = "uploaded"
	UploadCommitted   UploadState = "committed"
	UploadFailed      UploadState = "failed"
	// UploadDiscarded means the placeholder was gone when the upload finished; the stored
	// object was deleted.
	UploadDiscarded UploadState = "discarded"
)

// ImageUpload is an image the user dropped into the editor.
type ImageUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Notice is a transient message for the user.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type UploadView struct {
	ID    string      `json:"id"`
	State UploadState `json:"state"`
}

// View is a point-in-time copy of a session.
type View struct {
	ID      string        `json:"id"`
	PageID  string        `json:"pageId"`
	Content *content.Node `json:"content"`
	Status  Status        `json:"status"`
	Uploads []UploadView  `json:"uploads"`
	Notices []Notice      `json:"notices"`
}

type upload struct {
	id          string
	name        string
	contentType string
	state       UploadState
	preview     []byte
	asset       assets.Asset
	// node and parent locate the placeholder in the current tree while state is placeholder.
	node   *content.Node
	parent *content.Node
}

// Session is one open page view. All tree access goes through its mutex; uploads, deletes and
// saves run on their own goroutines.
type Session struct {
	id            string
	ownerID       string
	pageID        string
	pages         PageStore
	assets        AssetStore
	scheduler     *Scheduler
	tracker       *ImageTracker
	uploadTimeout time.Duration
	uploadsWG     sync.WaitGroup

	mu         sync.Mutex
	doc        *content.Node
	uploads    map[string]*upload
	order      []string
	notices    []Notice
	closed     bool
	lastActive time.Time
}

func newSession(id, ownerID, pageID string, doc *content.Node, pages PageStore, store AssetStore, cfg Config) *Session {
	s := &Session{
		id:            id,
		ownerID:       ownerID,
		pageID:        pageID,
		pages:         pages,
		assets:        store,
		uploadTimeout: cfg.UploadTimeout,
		doc:           doc,
		uploads:       make(map[string]*upload),
		lastActive:    time.Now(),
	}
	s.tracker = NewImageTracker(store.DeleteAsset, cfg.Resolver, ownerID, doc)
	s.scheduler = NewScheduler(s.save, WithDelay(cfg.AutosaveDelay), WithErrorWindow(cfg.ErrorWindow))
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) OwnerID() string { return s.ownerID }
func (s *Session) PageID() string  { return s.pageID }

func (s *Session) Status() Status {
	return s.scheduler.Status()
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Content returns a copy of the working tree.
func (s *Session) Content() *content.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// SetContent replaces the working tree with the client's version and schedules a save.
func (s *Session) SetContent(doc *content.Node) error {
	if doc == nil || doc.Kind != content.KindDoc {
		return content.ErrNotDocument
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.doc = doc
	s.reconcileLocked()
	s.touchLocked()
	s.mu.Unlock()

	s.scheduler.Touch()
	return nil
}

// reconcileLocked rebuilds the placeholder index for a new tree. Placeholders whose upload
// already settled are resolved the same way the live placeholder was.
func (s *Session) reconcileLocked() {
	for _, entry := range s.uploads {
		entry.node, entry.parent = nil, nil
	}
	type located struct{ node, parent *content.Node }
	var stale []located
	content.Walk(s.doc, func(node, parent *content.Node) bool {
		if node.Kind != content.KindImage || !node.Attrs.Pending || node.Attrs.UploadID == "" {
			return true
		}
		entry, ok := s.uploads[node.Attrs.UploadID]
		if !ok {
			return false
		}
		switch entry.state {
		case UploadPlaceholder:
			if entry.node == nil {
				entry.node, entry.parent = node, parent
			}
		case UploadCommitted:
			commitImage(node, entry.asset)
		default:
			stale = append(stale, located{node, parent})
		}
		return false
	})
	for _, item := range stale {
		content.Remove(item.parent, item.node)
	}
}

// InsertImage inserts a pending placeholder at the given position and uploads the image in
// the background. It returns the upload id.
func (s *Session) InsertImage(at content.Path, img ImageUpload) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: empty image", assets.ErrInvalidUpload)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	id := uuid.NewString()
	node := &content.Node{
		Kind: content.KindImage,
		Attrs: content.Attrs{
			Src:      PreviewScheme + id,
			Alt:      img.Name,
			Pending:  true,
			UploadID: id,
		},
	}
	parent, err := s.doc.InsertAt(at, node)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	s.uploads[id] = &upload{
		id:          id,
		name:        img.Name,
		contentType: img.ContentType,
		state:       UploadPlaceholder,
		preview:     img.Data,
		node:        node,
		parent:      parent,
	}
	s.order = append(s.order, id)
	s.touchLocked()
	s.uploadsWG.Add(1)
	s.mu.Unlock()

	s.scheduler.Touch()
	go s.runUpload(id, img)
	return id, nil
}

func (s *Session) runUpload(id string, img ImageUpload) {
	defer s.uploadsWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.uploadTimeout)
	defer cancel()
	asset, err := s.assets.UploadAsset(ctx, s.ownerID, assets.Upload{
		Name:        img.Name,
		ContentType: img.ContentType,
		Size:        int64(len(img.Data)),
		Body:        bytes.NewReader(img.Data),
	})
	s.completeUpload(id, asset, err)
}

func (s *Session) completeUpload(id string, asset assets.Asset, uploadErr error) {
	logger := log.With().Str("session", s.id).Str("upload", id).Logger()

	s.mu.Lock()
	entry := s.uploads[id]
	if s.closed || entry == nil || entry.state != UploadPlaceholder {
		s.mu.Unlock()
		if uploadErr == nil {
			logger.Info().Str("asset", asset.StoragePath).Msg("editor: upload finished after close, deleting")
			s.tracker.Delete(asset.StoragePath)
		}
		return
	}
	entry.preview = nil

	if uploadErr != nil {
		entry.state = UploadFailed
		if entry.node != nil {
			content.Remove(entry.parent, entry.node)
		}
		entry.node, entry.parent = nil, nil
		s.notices = append(s.notices, Notice{Message: fmt.Sprintf("Image upload failed: %s", displayName(entry.name)), At: time.Now()})
		s.mu.Unlock()

		logger.Warn().Err(uploadErr).Msg("editor: image upload failed")
		s.scheduler.Touch()
		return
	}

	entry.state = UploadUploaded
	entry.asset = asset
	if entry.node == nil {
		entry.state = UploadDiscarded
		s.mu.Unlock()

		logger.Info().Str("asset", asset.StoragePath).Msg("editor: placeholder gone, deleting upload")
		s.tracker.Delete(asset.StoragePath)
		return
	}
	commitImage(entry.node, asset)
	s.tracker.Track(asset.StoragePath)
	entry.state = UploadCommitted
	entry.node, entry.parent = nil, nil
	s.mu.Unlock()

	logger.Debug().Str("asset", asset.StoragePath).Msg("editor: image committed")
	s.scheduler.Touch()
}

func commitImage(node *content.Node, asset assets.Asset) {
	node.Attrs.Src = asset.URI
	node.Attrs.StoragePath = asset.StoragePath
	node.Attrs.Pending = false
	node.Attrs.UploadID = ""
}

func displayName(name string) string {
	if name == "" {
		return "image"
	}
	return name
}

// Preview returns the local bytes of an image that is still uploading.
func (s *Session) Preview(uploadID string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.uploads[uploadID]
	if !ok || entry.preview == nil {
		return nil, "", false
	}
	return entry.preview, entry.contentType, true
}

// Snapshot returns the session state. When drain is set, the returned notices are removed.
func (s *Session) Snapshot(drain bool) View {
	status := s.scheduler.Status()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	view := View{
		ID:      s.id,
		PageID:  s.pageID,
		Content: s.doc.Clone(),
		Status:  status,
		Uploads: make([]UploadView, 0, len(s.order)),
		Notices: append([]Notice{}, s.notices...),
	}
	for _, id := range s.order {
		view.Uploads = append(view.Uploads, UploadView{ID: id, State: s.uploads[id].state})
	}
	if drain {
		s.notices = nil
	}
	return view
}

// Flush saves unsaved changes now.
func (s *Session) Flush(ctx context.Context) error {
	return s.scheduler.Flush(ctx)
}

// Close ends the session. Unsaved changes are saved first unless discard is set. Uploads that
// finish afterwards are deleted instead of applied.
func (s *Session) Close(ctx context.Context, discard bool) error {
	var err error
	if !discard {
		err = s.scheduler.Flush(ctx)
	}
	s.scheduler.Stop()

	s.mu.Lock()
	s.closed = true
	for _, entry := range s.uploads {
		entry.preview = nil
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return nil
}

func (s *Session) save(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.doc.Clone()
	mark := s.tracker.Mark()
	s.mu.Unlock()

	if err := s.pages.SaveContent(ctx, s.ownerID, s.pageID, snapshot); err != nil {
		log.Error().Err(err).Str("session", s.id).Str("page", s.pageID).Msg("editor: autosave failed")
		return err
	}
	if orphans := s.tracker.Sweep(snapshot, mark); len(orphans) > 0 {
		log.Info().Str("page", s.pageID).Strs("assets", orphans).Msg("editor: submitted orphaned images for deletion")
	}
	return nil
}

// stripStalePlaceholders removes pending images that no live upload can complete.
func stripStalePlaceholders(doc *content.Node) int {
	type located struct{ node, parent *content.Node }
	var stale []located
	content.Walk(doc, func(node, parent *content.Node) bool {
		if node.Kind == content.KindImage && node.Attrs.Pending && parent != nil {
			stale = append(stale, located{node, parent})
		}
		return true
	})
	for _, item := range stale {
		content.Remove(item.parent, item.node)
	}
	return len(stale)
}
