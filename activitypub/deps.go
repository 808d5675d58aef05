package activitypub

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/soloap/soloap/domain"
)

// Database defines the storage operations the inbox/outbox engines
// require. This allows dependency injection and testing with fakes,
// matching the teacher's activitypub/deps.go split.
type Database interface {
	ReadUserByURI(uri string) (error, *domain.User)
	ReadUserByID(id uuid.UUID) (error, *domain.User)
	UpsertUserByURI(u *domain.User) error
	DeleteUser(id uuid.UUID) error

	ReadPostByURI(uri string) (error, *domain.Post)
	ReadPostByID(id uuid.UUID) (error, *domain.Post)
	UpsertPostByURI(p *domain.Post) error
	DeletePostByURI(uri string) error
	DeletePostByID(id uuid.UUID) error
	ReadRecentLocalPosts(limit int) (error, *[]domain.Post)

	CreateRemoteFile(f *domain.RemoteFile) error
	ReadRemoteFilesByPostID(postId uuid.UUID) (error, *[]domain.RemoteFile)
	ReadLocalFileByID(id uuid.UUID) (error, *domain.LocalFile)
	ReadLocalFilesByPostID(postId uuid.UUID) (error, *[]domain.LocalFile)
	AttachLocalFileToPost(id, postId uuid.UUID, order int) error
	DeleteLocalFile(id uuid.UUID) error

	CreateMention(m *domain.Mention) error
	ReadMentionsByPostID(postId uuid.UUID) (error, *[]domain.Mention)
	CreateHashtag(h *domain.Hashtag) error
	ReadHashtagsByPostID(postId uuid.UUID) (error, *[]domain.Hashtag)
	CreatePostEmoji(e *domain.PostEmoji) error
	ReadPostEmojisByPostID(postId uuid.UUID) (error, *[]domain.PostEmoji)

	CreateFollow(f *domain.Follow) error
	ReadFollowByID(id uuid.UUID) (error, *domain.Follow)
	ReadFollowByToID(toId uuid.UUID) (error, *domain.Follow)
	AcceptFollowByToID(toId uuid.UUID) error
	DeleteFollowByID(id uuid.UUID) error

	CreateFollower(f *domain.Follower) error
	UpsertFollowerByURI(f *domain.Follower) error
	ReadFollowerByURI(uri string) (error, *domain.Follower)
	ReadFollowerByFromID(fromId uuid.UUID) (error, *domain.Follower)
	DeleteFollowerByURI(uri string) (int64, error)
	ReadFollowerInboxes() (error, *[]string)
	ReadFollowerActorURIs() (error, *[]string)
	ReadFollowURIs() (error, *[]string)

	CreateReaction(r *domain.Reaction) error
	UpsertReactionByURI(r *domain.Reaction) error
	ReadReactionByURI(uri string) (error, *domain.Reaction)
	ReadReactionByID(id uuid.UUID) (error, *domain.Reaction)
	DeleteReactionByURI(uri string) (int64, error)
	DeleteReactionByID(id uuid.UUID) error

	CreateReport(r *domain.Report) error

	ReadSetting(id uuid.UUID) (error, *domain.Setting)
	CreateSetting(s *domain.Setting) error
	UpdateSetting(s *domain.Setting) error

	CreateAccessKey(k *domain.AccessKey) error
	ReadAccessKeyByID(id uuid.UUID) (error, *domain.AccessKey)
	TouchAccessKey(id uuid.UUID, at time.Time) error
	DeleteAccessKey(id uuid.UUID) error

	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadDueDeliveries(now time.Time, limit int) (error, *[]domain.DeliveryQueueItem)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, lastError string) error
	DeleteDelivery(id uuid.UUID) error

	// WithTx runs fn against a Database bound to a single underlying
	// transaction, so every nested call fn makes commits or rolls back
	// together (§4.2 "Apply side effects inside a transaction").
	WithTx(fn func(tx Database) error) error
}

// HTTPClient defines the HTTP operations required for dereferencing
// remote objects and delivering signed activities.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is the production HTTPClient: a plain *http.Client
// with a fixed timeout, matching the teacher's deps.go shape — no HTTP
// client library appears anywhere in the retrieval pack to adopt instead.
type DefaultHTTPClient struct {
	client *http.Client
}

func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{client: &http.Client{Timeout: timeout}}
}

func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}
