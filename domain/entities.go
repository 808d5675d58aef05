package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the remote-actor cache row, and also the single local actor
// (distinguished by host == the instance domain).
type User struct {
	Id                        uuid.UUID
	CreatedAt                 time.Time
	LastFetchedAt             time.Time
	Handle                    string
	Name                      *string
	Host                      string
	Inbox                     string
	SharedInbox               *string
	PublicKeyPem              string
	Uri                       string
	AvatarUrl                 *string
	BannerUrl                 *string
	ManuallyApprovesFollowers bool
	IsBot                     bool
	Description               *string
}

// Visibility enumerates a Post's addressing scope.
type Visibility string

const (
	VisibilityPublic        Visibility = "public"
	VisibilityHome          Visibility = "home"
	VisibilityFollowers     Visibility = "followers"
	VisibilityDirectMessage Visibility = "direct"
)

// Post is the local or remote note/announce projection.
//
// Kind is derived, never stored: RepostId set and Text empty is a pure
// Announce; RepostId set and Text non-empty is a quote; neither set is an
// original post or reply.
type Post struct {
	Id              uuid.UUID
	CreatedAt       time.Time
	ReplyId         *uuid.UUID
	RepostId        *uuid.UUID
	Text            string
	Title           *string
	UserId          *uuid.UUID
	Visibility      Visibility
	IsSensitive     bool
	Uri             string
	SourceContent   *string
	SourceMediaType *string
}

// Kind classifies a Post for serialization purposes.
type PostKind int

const (
	PostKindOriginal PostKind = iota
	PostKindAnnounce
	PostKindQuote
)

func (p *Post) Kind() PostKind {
	if p.RepostId == nil {
		return PostKindOriginal
	}
	if p.Text == "" {
		return PostKindAnnounce
	}
	return PostKindQuote
}

// RemoteFile is a post attachment hosted elsewhere, keyed by (PostId, Order).
type RemoteFile struct {
	PostId    uuid.UUID
	Order     int
	Url       string
	MediaType string
	Name      *string
}

// LocalFile is a blob-store-backed attachment or upload. It is either
// unattached, attached to one post position, or attached to one emoji.
type LocalFile struct {
	Id              uuid.UUID
	CreatedAt       time.Time
	ObjectStoreKey  string
	ObjectStoreType string
	MediaType       string
	PostId          *uuid.UUID
	Order           *int
	EmojiName       *string
}

// Mention attaches a display name to a mentioned actor's uri on a post.
type Mention struct {
	PostId      uuid.UUID
	UserUri     string
	DisplayName string
}

// Hashtag is a post's tag, stripped of its leading '#'.
type Hashtag struct {
	PostId uuid.UUID
	Name   string
}

// PostEmoji is a per-post custom-emoji reference.
type PostEmoji struct {
	PostId    uuid.UUID
	Name      string
	Uri       string
	MediaType string
	ImageUrl  string
}

// Follow is an outbound follow (local actor following a remote one).
type Follow struct {
	Id        uuid.UUID
	CreatedAt time.Time
	ToId      uuid.UUID
	Accepted  bool
}

// Follower is an inbound follow (a remote actor following the local one).
type Follower struct {
	Id        uuid.UUID
	CreatedAt time.Time
	FromId    uuid.UUID
	Uri       string
}

// Reaction is a like or custom-emoji reaction on a post.
type Reaction struct {
	Id              uuid.UUID
	CreatedAt       time.Time
	UserId          *uuid.UUID
	PostId          uuid.UUID
	Content         string
	Uri             string
	EmojiUri        *string
	EmojiMediaType  *string
	EmojiImageUrl   *string
}

// Emoji is the custom-emoji registry, keyed by unique Name and joined to a
// LocalFile via LocalFile.EmojiName.
type Emoji struct {
	Name      string
	CreatedAt time.Time
}

// Report is a durable inbound abuse flag.
type Report struct {
	Id         uuid.UUID
	CreatedAt  time.Time
	FromUserId uuid.UUID
	Content    string
}

// Setting is the singleton configuration row (Id is the nil ULID).
type Setting struct {
	Id              uuid.UUID
	InstanceName    *string
	UserName        *string
	UserPublicKey   string
	UserPrivateKey  string
	AvatarFileId    *uuid.UUID
	BannerFileId    *uuid.UUID
	Description     *string
	MaintainerName  *string
	MaintainerEmail *string
	ThemeColor      *string
	ObjectStoreType string
	S3Bucket        *string
	S3Region        *string
	S3Endpoint      *string
	FsBasePath      *string
}

// AccessKey is an admin session token.
type AccessKey struct {
	Id         uuid.UUID
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// DeliveryQueueItem is a pending or retrying outbound delivery.
type DeliveryQueueItem struct {
	Id        uuid.UUID
	CreatedAt time.Time
	InboxUrl  string
	Payload   string
	Attempts  int
	NextRetry time.Time
	LastError *string
}
