package models

import (
	"encoding/json"
	"time"
)

type PlayerOperation string

const (
	OperationQueryPosts     PlayerOperation = "query_posts"
	OperationSubmitReaction PlayerOperation = "submit_reaction"
	OperationRevokeReaction PlayerOperation = "revoke_reaction"
	OperationGetComments    PlayerOperation = "get_comments"
	OperationSubmitView     PlayerOperation = "submit_view"
)

// RequestEnvelope is one inbound message on a device's request topic.
// The caller's device key and the correlation id are both taken from the
// topic, never from the payload; the payload copy of the correlation id
// is ignored.
type RequestEnvelope struct {
	Operation     PlayerOperation `json:"op"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	IssuedAt      time.Time       `json:"issued_at"`
}

type PlayerErrorCode string

const (
	PlayerErrMalformedRequest PlayerErrorCode = "malformed_request"
	PlayerErrUnauthenticated  PlayerErrorCode = "unauthenticated"
	PlayerErrForbidden        PlayerErrorCode = "forbidden"
	PlayerErrNotFound         PlayerErrorCode = "not_found"
	PlayerErrRateLimited      PlayerErrorCode = "rate_limited"
	PlayerErrInternal         PlayerErrorCode = "internal"
)

type PlayerError struct {
	Code    PlayerErrorCode `json:"code"`
	Message string          `json:"message"`
}

// ResponseEnvelope is published exactly once per correlation id, success
// or error alike.
type ResponseEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *PlayerError    `json:"error,omitempty"`
}

type PostChannel string

const (
	ChannelAll      PostChannel = "all"
	ChannelPromoted PostChannel = "promoted"
	ChannelUser     PostChannel = "user"
)

type PostSort string

const (
	SortServerOrder PostSort = "server_order"
	SortCreatedAt   PostSort = "created_at"
	SortRandom      PostSort = "random"
)

type QueryPostsRequest struct {
	Channel  PostChannel `json:"channel" validate:"required,oneof=all promoted user"`
	Sort     PostSort    `json:"sort" validate:"required,oneof=server_order created_at random"`
	Seed     string      `json:"seed,omitempty"`
	Count    int         `json:"count" validate:"required,min=1,max=50"`
	Bookmark string      `json:"bookmark,omitempty"`
}

type PostSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
	Author   string `json:"author"`
}

type QueryPostsResponse struct {
	Posts        []PostSummary `json:"posts"`
	Seed         string        `json:"seed,omitempty"`
	NextBookmark string        `json:"next_bookmark,omitempty"`
}

type ReactionRequest struct {
	PostID string `json:"post_id" validate:"required"`
	Emoji  string `json:"emoji" validate:"required"`
}

type ReactionResponse struct {
	PostID          string   `json:"post_id"`
	ActiveReactions []string `json:"active_reactions"`
}

type GetCommentsRequest struct {
	PostID   string `json:"post_id" validate:"required"`
	Count    int    `json:"count" validate:"required,min=1,max=200"`
	Bookmark string `json:"bookmark,omitempty"`
}

type CommentEntry struct {
	ID              string    `json:"id"`
	ParentCommentID *string   `json:"parent_comment_id,omitempty"`
	Author          string    `json:"author"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}

type GetCommentsResponse struct {
	Comments     []CommentEntry `json:"comments"`
	NextBookmark string         `json:"next_bookmark,omitempty"`
}

type SubmitViewRequest struct {
	ContentID      string     `json:"content_id" validate:"required"`
	LocalTimestamp int64      `json:"local_timestamp"`
	Timezone       string     `json:"timezone"`
	Intent         ViewIntent `json:"intent" validate:"required,oneof=intentional automated"`
	Ordinal        int        `json:"ordinal"`
	Channel        string     `json:"channel"`
}

type SubmitViewResponse struct {
	Recorded bool `json:"recorded"`
}
