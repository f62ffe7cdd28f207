package models

import "time"

// The account, post and comment types below are the narrow read contracts
// this layer consumes from the platform's relational store. The REST API
// owns their full lifecycle.

type AccountStatus string

const (
	AccountEnabled  AccountStatus = "ENABLED"
	AccountDisabled AccountStatus = "DISABLED"
	AccountBanned   AccountStatus = "BANNED"
)

type Account struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	Username  string        `json:"username"`
	Status    AccountStatus `json:"status"`
	Moderator bool          `json:"moderator"`
}

// CanOperate reports whether device operations may execute with this
// account's permissions. Devices always inherit the owner account's
// standing, never carry their own.
func (a *Account) CanOperate() bool {
	return a.Status == AccountEnabled
}

type PostVisibility string

const (
	PostVisible       PostVisibility = "VISIBLE"
	PostHidden        PostVisibility = "HIDDEN"
	PostNonConformant PostVisibility = "NON_CONFORMANT"
	PostModeratorOnly PostVisibility = "MODERATOR_ONLY"
)

type Post struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	OwnerAccountID string         `json:"owner_account_id"`
	Title          string         `json:"title"`
	ImageURL       string         `json:"image_url"`
	Visibility     PostVisibility `json:"visibility"`
	Promoted       bool           `json:"promoted"`
	ServerOrder    int64          `json:"server_order"`
	CreatedAt      time.Time      `json:"created_at"`
}

// VisibleTo applies the owner account's moderation/visibility rules.
// Moderators additionally see moderator-only content.
func (p *Post) VisibleTo(account *Account) bool {
	switch p.Visibility {
	case PostVisible:
		return true
	case PostModeratorOnly:
		return account.Moderator
	default:
		return p.OwnerAccountID == account.ID
	}
}

type Comment struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	PostID          string    `json:"post_id"`
	ParentCommentID *string   `json:"parent_comment_id,omitempty"`
	AuthorAccountID string    `json:"author_account_id"`
	Body            string    `json:"body"`
	Hidden          bool      `json:"hidden"`
	CreatedAt       time.Time `json:"created_at"`
}

// MaxDistinctReactionsPerPost caps the number of distinct active emoji one
// account may hold on a single post.
const MaxDistinctReactionsPerPost = 5

type Reaction struct {
	PostID    string    `json:"post_id" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"primaryKey"`
	Emoji     string    `json:"emoji" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}
