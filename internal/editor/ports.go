// Package editor holds the server side of an open page view: the working content tree,
// debounced autosave, placeholder image uploads and the orphaned-image sweep.
package editor

import (
	"context"

	"notes/api/internal/assets"
	"notes/api/internal/content"
)

// PageStore loads and saves page content.
type PageStore interface {
	LoadContent(ctx context.Context, ownerID, pageID string) (*content.Node, error)
	SaveContent(ctx context.Context, ownerID, pageID string, doc *content.Node) error
}

// AssetStore uploads and deletes image assets.
type AssetStore interface {
	UploadAsset(ctx context.Context, ownerID string, upload assets.Upload) (assets.Asset, error)
	DeleteAsset(ctx context.Context, storagePath string) error
}
