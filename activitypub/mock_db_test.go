package activitypub

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soloap/soloap/domain"
)

// mockDB is an in-memory fake satisfying the Database interface, so the
// inbox/outbox state machines can be exercised without a real sqlite
// connection. Grounded on the teacher's activitypub/mock_db_test.go
// (map-backed fake, RWMutex, ForceError injection), generalized to the
// full entity set.
type mockDB struct {
	mu sync.RWMutex

	users    map[uuid.UUID]*domain.User
	usersURI map[string]uuid.UUID

	posts    map[uuid.UUID]*domain.Post
	postsURI map[string]uuid.UUID

	remoteFiles map[uuid.UUID][]domain.RemoteFile
	localFiles  map[uuid.UUID]*domain.LocalFile

	mentions   map[uuid.UUID][]domain.Mention
	hashtags   map[uuid.UUID][]domain.Hashtag
	postEmojis map[uuid.UUID][]domain.PostEmoji

	follows    map[uuid.UUID]*domain.Follow
	followsTo  map[uuid.UUID]uuid.UUID
	followers  map[uuid.UUID]*domain.Follower
	followerURI map[string]uuid.UUID
	followerFrom map[uuid.UUID]uuid.UUID

	reactions    map[uuid.UUID]*domain.Reaction
	reactionsURI map[string]uuid.UUID

	reports []domain.Report

	setting *domain.Setting

	accessKeys map[uuid.UUID]*domain.AccessKey

	deliveryQueue map[uuid.UUID]*domain.DeliveryQueueItem

	ForceError error
}

func newMockDB() *mockDB {
	return &mockDB{
		users:        make(map[uuid.UUID]*domain.User),
		usersURI:     make(map[string]uuid.UUID),
		posts:        make(map[uuid.UUID]*domain.Post),
		postsURI:     make(map[string]uuid.UUID),
		remoteFiles:  make(map[uuid.UUID][]domain.RemoteFile),
		localFiles:   make(map[uuid.UUID]*domain.LocalFile),
		mentions:     make(map[uuid.UUID][]domain.Mention),
		hashtags:     make(map[uuid.UUID][]domain.Hashtag),
		postEmojis:   make(map[uuid.UUID][]domain.PostEmoji),
		follows:      make(map[uuid.UUID]*domain.Follow),
		followsTo:    make(map[uuid.UUID]uuid.UUID),
		followers:    make(map[uuid.UUID]*domain.Follower),
		followerURI:  make(map[string]uuid.UUID),
		followerFrom: make(map[uuid.UUID]uuid.UUID),
		reactions:    make(map[uuid.UUID]*domain.Reaction),
		reactionsURI: make(map[string]uuid.UUID),
		accessKeys:   make(map[uuid.UUID]*domain.AccessKey),
		deliveryQueue: make(map[uuid.UUID]*domain.DeliveryQueueItem),
	}
}

var errMockNotFound = errors.New("mock: not found")

func (m *mockDB) addUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.Id] = &cp
	m.usersURI[u.Uri] = u.Id
}

func (m *mockDB) addFollower(f *domain.Follower) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.followers[f.Id] = &cp
	m.followerURI[f.Uri] = f.Id
	m.followerFrom[f.FromId] = f.Id
}

// ---------------------------------------------------------------- Users --

func (m *mockDB) ReadUserByURI(uri string) (error, *domain.User) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	id, ok := m.usersURI[uri]
	if !ok {
		return errMockNotFound, nil
	}
	u := *m.users[id]
	return nil, &u
}

func (m *mockDB) ReadUserByID(id uuid.UUID) (error, *domain.User) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *u
	return nil, &cp
}

func (m *mockDB) UpsertUserByURI(u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingId, ok := m.usersURI[u.Uri]; ok {
		u.Id = existingId
	}
	cp := *u
	m.users[u.Id] = &cp
	m.usersURI[u.Uri] = u.Id
	return nil
}

func (m *mockDB) DeleteUser(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.usersURI, u.Uri)
		delete(m.users, id)
	}
	return nil
}

// ---------------------------------------------------------------- Posts --

func (m *mockDB) ReadPostByURI(uri string) (error, *domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.postsURI[uri]
	if !ok {
		return errMockNotFound, nil
	}
	p := *m.posts[id]
	return nil, &p
}

func (m *mockDB) ReadPostByID(id uuid.UUID) (error, *domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *p
	return nil, &cp
}

func (m *mockDB) ReadRecentLocalPosts(limit int) (error, *[]domain.Post) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Post
	for _, p := range m.posts {
		if p.UserId == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return nil, &out
}

func (m *mockDB) UpsertPostByURI(p *domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingId, ok := m.postsURI[p.Uri]; ok {
		p.Id = existingId
	}
	cp := *p
	m.posts[p.Id] = &cp
	m.postsURI[p.Uri] = p.Id
	return nil
}

func (m *mockDB) DeletePostByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.postsURI[uri]
	if !ok {
		return nil
	}
	delete(m.posts, id)
	delete(m.postsURI, uri)
	return nil
}

func (m *mockDB) DeletePostByID(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[id]; ok {
		delete(m.postsURI, p.Uri)
		delete(m.posts, id)
	}
	return nil
}

// ---------------------------------------------------- Attachments & tags --

func (m *mockDB) CreateRemoteFile(f *domain.RemoteFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteFiles[f.PostId] = append(m.remoteFiles[f.PostId], *f)
	return nil
}

func (m *mockDB) ReadRemoteFilesByPostID(postId uuid.UUID) (error, *[]domain.RemoteFile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.RemoteFile{}, m.remoteFiles[postId]...)
	return nil, &out
}

func (m *mockDB) ReadLocalFileByID(id uuid.UUID) (error, *domain.LocalFile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.localFiles[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *f
	return nil, &cp
}

func (m *mockDB) ReadLocalFilesByPostID(postId uuid.UUID) (error, *[]domain.LocalFile) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LocalFile
	for _, f := range m.localFiles {
		if f.PostId != nil && *f.PostId == postId {
			out = append(out, *f)
		}
	}
	return nil, &out
}

func (m *mockDB) AttachLocalFileToPost(id, postId uuid.UUID, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.localFiles[id]; ok {
		f.PostId = &postId
		f.Order = &order
	}
	return nil
}

func (m *mockDB) DeleteLocalFile(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.localFiles, id)
	return nil
}

func (m *mockDB) CreateMention(mn *domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions[mn.PostId] = append(m.mentions[mn.PostId], *mn)
	return nil
}

func (m *mockDB) ReadMentionsByPostID(postId uuid.UUID) (error, *[]domain.Mention) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Mention{}, m.mentions[postId]...)
	return nil, &out
}

func (m *mockDB) CreateHashtag(h *domain.Hashtag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashtags[h.PostId] = append(m.hashtags[h.PostId], *h)
	return nil
}

func (m *mockDB) ReadHashtagsByPostID(postId uuid.UUID) (error, *[]domain.Hashtag) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Hashtag{}, m.hashtags[postId]...)
	return nil, &out
}

func (m *mockDB) CreatePostEmoji(e *domain.PostEmoji) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postEmojis[e.PostId] = append(m.postEmojis[e.PostId], *e)
	return nil
}

func (m *mockDB) ReadPostEmojisByPostID(postId uuid.UUID) (error, *[]domain.PostEmoji) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.PostEmoji{}, m.postEmojis[postId]...)
	return nil, &out
}

// ------------------------------------------------------- Follow/Follower --

func (m *mockDB) CreateFollow(f *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.follows[f.Id] = &cp
	m.followsTo[f.ToId] = f.Id
	return nil
}

func (m *mockDB) ReadFollowByID(id uuid.UUID) (error, *domain.Follow) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.follows[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *f
	return nil, &cp
}

func (m *mockDB) ReadFollowByToID(toId uuid.UUID) (error, *domain.Follow) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.followsTo[toId]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *m.follows[id]
	return nil, &cp
}

func (m *mockDB) AcceptFollowByToID(toId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.followsTo[toId]
	if !ok {
		return nil
	}
	m.follows[id].Accepted = true
	return nil
}

func (m *mockDB) DeleteFollowByID(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.follows[id]; ok {
		delete(m.followsTo, f.ToId)
		delete(m.follows, id)
	}
	return nil
}

func (m *mockDB) CreateFollower(f *domain.Follower) error {
	m.addFollower(f)
	return nil
}

func (m *mockDB) UpsertFollowerByURI(f *domain.Follower) error {
	m.mu.Lock()
	if _, ok := m.followerURI[f.Uri]; ok {
		m.mu.Unlock()
		return nil
	}
	if existingId, ok := m.followerFrom[f.FromId]; ok {
		existing := m.followers[existingId]
		existing.Uri = f.Uri
		existing.CreatedAt = f.CreatedAt
		m.followerURI[f.Uri] = existingId
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.addFollower(f)
	return nil
}

func (m *mockDB) ReadFollowerByURI(uri string) (error, *domain.Follower) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.followerURI[uri]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *m.followers[id]
	return nil, &cp
}

func (m *mockDB) ReadFollowerByFromID(fromId uuid.UUID) (error, *domain.Follower) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.followerFrom[fromId]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *m.followers[id]
	return nil, &cp
}

func (m *mockDB) DeleteFollowerByURI(uri string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.followerURI[uri]
	if !ok {
		return 0, nil
	}
	f := m.followers[id]
	delete(m.followerFrom, f.FromId)
	delete(m.followerURI, uri)
	delete(m.followers, id)
	return 1, nil
}

func (m *mockDB) ReadFollowerInboxes() (error, *[]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, f := range m.followers {
		u := m.users[f.FromId]
		inbox := u.Inbox
		if u.SharedInbox != nil {
			inbox = *u.SharedInbox
		}
		if _, ok := seen[inbox]; ok {
			continue
		}
		seen[inbox] = struct{}{}
		out = append(out, inbox)
	}
	return nil, &out
}

func (m *mockDB) ReadFollowerActorURIs() (error, *[]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, f := range m.followers {
		out = append(out, m.users[f.FromId].Uri)
	}
	return nil, &out
}

func (m *mockDB) ReadFollowURIs() (error, *[]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, f := range m.follows {
		out = append(out, m.users[f.ToId].Uri)
	}
	return nil, &out
}

// -------------------------------------------------------------- Reaction --

func (m *mockDB) CreateReaction(r *domain.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reactions[r.Id] = &cp
	m.reactionsURI[r.Uri] = r.Id
	return nil
}

func (m *mockDB) UpsertReactionByURI(r *domain.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingId, ok := m.reactionsURI[r.Uri]; ok {
		r.Id = existingId
	}
	cp := *r
	m.reactions[r.Id] = &cp
	m.reactionsURI[r.Uri] = r.Id
	return nil
}

func (m *mockDB) ReadReactionByURI(uri string) (error, *domain.Reaction) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.reactionsURI[uri]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *m.reactions[id]
	return nil, &cp
}

func (m *mockDB) ReadReactionByID(id uuid.UUID) (error, *domain.Reaction) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reactions[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *r
	return nil, &cp
}

func (m *mockDB) DeleteReactionByURI(uri string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.reactionsURI[uri]
	if !ok {
		return 0, nil
	}
	delete(m.reactions, id)
	delete(m.reactionsURI, uri)
	return 1, nil
}

func (m *mockDB) DeleteReactionByID(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reactions[id]; ok {
		delete(m.reactionsURI, r.Uri)
		delete(m.reactions, id)
	}
	return nil
}

// --------------------------------------------------------------- Report --

func (m *mockDB) CreateReport(r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, *r)
	return nil
}

// -------------------------------------------------------------- Setting --

func (m *mockDB) ReadSetting(id uuid.UUID) (error, *domain.Setting) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.setting == nil {
		return errMockNotFound, nil
	}
	cp := *m.setting
	return nil, &cp
}

func (m *mockDB) CreateSetting(s *domain.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.setting = &cp
	return nil
}

func (m *mockDB) UpdateSetting(s *domain.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.setting = &cp
	return nil
}

// ------------------------------------------------------------ AccessKey --

func (m *mockDB) CreateAccessKey(k *domain.AccessKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.accessKeys[k.Id] = &cp
	return nil
}

func (m *mockDB) ReadAccessKeyByID(id uuid.UUID) (error, *domain.AccessKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.accessKeys[id]
	if !ok {
		return errMockNotFound, nil
	}
	cp := *k
	return nil, &cp
}

func (m *mockDB) TouchAccessKey(id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.accessKeys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func (m *mockDB) DeleteAccessKey(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accessKeys, id)
	return nil
}

// ---------------------------------------------------------- DeliveryQueue --

func (m *mockDB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.deliveryQueue[item.Id] = &cp
	return nil
}

func (m *mockDB) ReadDueDeliveries(now time.Time, limit int) (error, *[]domain.DeliveryQueueItem) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DeliveryQueueItem
	for _, item := range m.deliveryQueue {
		if !item.NextRetry.After(now) {
			out = append(out, *item)
		}
		if len(out) >= limit {
			break
		}
	}
	return nil, &out
}

func (m *mockDB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.deliveryQueue[id]; ok {
		item.Attempts = attempts
		item.NextRetry = nextRetry
		item.LastError = &lastError
	}
	return nil
}

func (m *mockDB) DeleteDelivery(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveryQueue, id)
	return nil
}

// WithTx runs fn directly against m: the in-memory fake has no real
// transaction boundary, so this just makes mockDB satisfy Database.
func (m *mockDB) WithTx(fn func(tx Database) error) error {
	return fn(m)
}

var _ Database = (*mockDB)(nil)
