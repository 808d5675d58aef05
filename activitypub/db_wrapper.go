package activitypub

import (
	"time"

	"github.com/google/uuid"

	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
)

// DBWrapper adapts the db package's singleton to the Database interface,
// matching the teacher's activitypub/db_wrapper.go adapter shape. bound is
// nil for the ordinary process-wide wrapper, and set to a transaction-
// scoped *db.DB inside a WithTx callback so nested calls share one commit.
type DBWrapper struct {
	bound *db.DB
}

func NewDBWrapper() *DBWrapper { return &DBWrapper{} }

func (w *DBWrapper) db() *db.DB {
	if w.bound != nil {
		return w.bound
	}
	return db.GetDB()
}

// WithTx runs fn against a DBWrapper bound to a single transaction (§4.2).
func (w *DBWrapper) WithTx(fn func(tx Database) error) error {
	return w.db().WithEntityTx(func(tx *db.DB) error {
		return fn(&DBWrapper{bound: tx})
	})
}

func (w *DBWrapper) ReadUserByURI(uri string) (error, *domain.User) { return w.db().ReadUserByURI(uri) }
func (w *DBWrapper) ReadUserByID(id uuid.UUID) (error, *domain.User) { return w.db().ReadUserByID(id) }
func (w *DBWrapper) UpsertUserByURI(u *domain.User) error            { return w.db().UpsertUserByURI(u) }
func (w *DBWrapper) DeleteUser(id uuid.UUID) error                   { return w.db().DeleteUser(id) }

func (w *DBWrapper) ReadPostByURI(uri string) (error, *domain.Post) { return w.db().ReadPostByURI(uri) }
func (w *DBWrapper) ReadPostByID(id uuid.UUID) (error, *domain.Post) { return w.db().ReadPostByID(id) }
func (w *DBWrapper) UpsertPostByURI(p *domain.Post) error            { return w.db().UpsertPostByURI(p) }
func (w *DBWrapper) DeletePostByURI(uri string) error                { return w.db().DeletePostByURI(uri) }
func (w *DBWrapper) DeletePostByID(id uuid.UUID) error               { return w.db().DeletePostByID(id) }
func (w *DBWrapper) ReadRecentLocalPosts(limit int) (error, *[]domain.Post) {
	return w.db().ReadRecentLocalPosts(limit)
}

func (w *DBWrapper) CreateRemoteFile(f *domain.RemoteFile) error { return w.db().CreateRemoteFile(f) }
func (w *DBWrapper) ReadRemoteFilesByPostID(postId uuid.UUID) (error, *[]domain.RemoteFile) {
	return w.db().ReadRemoteFilesByPostID(postId)
}
func (w *DBWrapper) ReadLocalFileByID(id uuid.UUID) (error, *domain.LocalFile) {
	return w.db().ReadLocalFileByID(id)
}
func (w *DBWrapper) ReadLocalFilesByPostID(postId uuid.UUID) (error, *[]domain.LocalFile) {
	return w.db().ReadLocalFilesByPostID(postId)
}
func (w *DBWrapper) AttachLocalFileToPost(id, postId uuid.UUID, order int) error {
	return w.db().AttachLocalFileToPost(id, postId, order)
}
func (w *DBWrapper) DeleteLocalFile(id uuid.UUID) error { return w.db().DeleteLocalFile(id) }

func (w *DBWrapper) CreateMention(m *domain.Mention) error { return w.db().CreateMention(m) }
func (w *DBWrapper) ReadMentionsByPostID(postId uuid.UUID) (error, *[]domain.Mention) {
	return w.db().ReadMentionsByPostID(postId)
}
func (w *DBWrapper) CreateHashtag(h *domain.Hashtag) error { return w.db().CreateHashtag(h) }
func (w *DBWrapper) ReadHashtagsByPostID(postId uuid.UUID) (error, *[]domain.Hashtag) {
	return w.db().ReadHashtagsByPostID(postId)
}
func (w *DBWrapper) CreatePostEmoji(e *domain.PostEmoji) error { return w.db().CreatePostEmoji(e) }
func (w *DBWrapper) ReadPostEmojisByPostID(postId uuid.UUID) (error, *[]domain.PostEmoji) {
	return w.db().ReadPostEmojisByPostID(postId)
}

func (w *DBWrapper) CreateFollow(f *domain.Follow) error { return w.db().CreateFollow(f) }
func (w *DBWrapper) ReadFollowByID(id uuid.UUID) (error, *domain.Follow) {
	return w.db().ReadFollowByID(id)
}
func (w *DBWrapper) ReadFollowByToID(toId uuid.UUID) (error, *domain.Follow) {
	return w.db().ReadFollowByToID(toId)
}
func (w *DBWrapper) AcceptFollowByToID(toId uuid.UUID) error { return w.db().AcceptFollowByToID(toId) }
func (w *DBWrapper) DeleteFollowByID(id uuid.UUID) error     { return w.db().DeleteFollowByID(id) }

func (w *DBWrapper) CreateFollower(f *domain.Follower) error { return w.db().CreateFollower(f) }
func (w *DBWrapper) UpsertFollowerByURI(f *domain.Follower) error {
	return w.db().UpsertFollowerByURI(f)
}
func (w *DBWrapper) ReadFollowerByURI(uri string) (error, *domain.Follower) {
	return w.db().ReadFollowerByURI(uri)
}
func (w *DBWrapper) ReadFollowerByFromID(fromId uuid.UUID) (error, *domain.Follower) {
	return w.db().ReadFollowerByFromID(fromId)
}
func (w *DBWrapper) DeleteFollowerByURI(uri string) (int64, error) {
	return w.db().DeleteFollowerByURI(uri)
}
func (w *DBWrapper) ReadFollowerInboxes() (error, *[]string) { return w.db().ReadFollowerInboxes() }
func (w *DBWrapper) ReadFollowerActorURIs() (error, *[]string) {
	return w.db().ReadFollowerActorURIs()
}
func (w *DBWrapper) ReadFollowURIs() (error, *[]string) { return w.db().ReadFollowURIs() }

func (w *DBWrapper) CreateReaction(r *domain.Reaction) error { return w.db().CreateReaction(r) }
func (w *DBWrapper) UpsertReactionByURI(r *domain.Reaction) error {
	return w.db().UpsertReactionByURI(r)
}
func (w *DBWrapper) ReadReactionByURI(uri string) (error, *domain.Reaction) {
	return w.db().ReadReactionByURI(uri)
}
func (w *DBWrapper) ReadReactionByID(id uuid.UUID) (error, *domain.Reaction) {
	return w.db().ReadReactionByID(id)
}
func (w *DBWrapper) DeleteReactionByURI(uri string) (int64, error) {
	return w.db().DeleteReactionByURI(uri)
}
func (w *DBWrapper) DeleteReactionByID(id uuid.UUID) error { return w.db().DeleteReactionByID(id) }

func (w *DBWrapper) CreateReport(r *domain.Report) error { return w.db().CreateReport(r) }

func (w *DBWrapper) ReadSetting(id uuid.UUID) (error, *domain.Setting) { return w.db().ReadSetting(id) }
func (w *DBWrapper) CreateSetting(s *domain.Setting) error             { return w.db().CreateSetting(s) }
func (w *DBWrapper) UpdateSetting(s *domain.Setting) error             { return w.db().UpdateSetting(s) }

func (w *DBWrapper) CreateAccessKey(k *domain.AccessKey) error { return w.db().CreateAccessKey(k) }
func (w *DBWrapper) ReadAccessKeyByID(id uuid.UUID) (error, *domain.AccessKey) {
	return w.db().ReadAccessKeyByID(id)
}
func (w *DBWrapper) TouchAccessKey(id uuid.UUID, at time.Time) error {
	return w.db().TouchAccessKey(id, at)
}
func (w *DBWrapper) DeleteAccessKey(id uuid.UUID) error { return w.db().DeleteAccessKey(id) }

func (w *DBWrapper) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return w.db().EnqueueDelivery(item)
}
func (w *DBWrapper) ReadDueDeliveries(now time.Time, limit int) (error, *[]domain.DeliveryQueueItem) {
	return w.db().ReadDueDeliveries(now, limit)
}
func (w *DBWrapper) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, lastError string) error {
	return w.db().UpdateDeliveryAttempt(id, attempts, nextRetry, lastError)
}
func (w *DBWrapper) DeleteDelivery(id uuid.UUID) error { return w.db().DeleteDelivery(id) }
