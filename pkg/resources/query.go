package resources

import "github.com/fabkury/makapix-sub005/pkg/models"

// PostQuery narrows and orders the post listing a device paginates
// through. Visibility is part of the query so filtering happens before
// pagination; Seed drives the stable shuffle for random sort and the
// cursor carries it between pages.
type PostQuery struct {
	Channel           models.PostChannel
	ViewerAccountID   string
	ViewerIsModerator bool
	Sort              models.PostSort
	Seed              string
	PageSize          int
	NextBookmark      string
}

// PostCursor is the keyset state behind an opaque post bookmark. Keyset
// pagination keeps a repeated cursor on the same page and avoids
// duplicates when new content arrives mid-session. Seed travels inside
// the cursor so a shuffle continuation cannot drift to another ordering.
type PostCursor struct {
	Sort    models.PostSort `json:"s"`
	Seed    string          `json:"r,omitempty"`
	LastKey string          `json:"k"`
	LastID  string          `json:"id"`
}

type CommentQuery struct {
	PostID           string
	IncludeModerated bool
	PageSize         int
	NextBookmark     string
}
