// Package db is the storage layer: a singleton *sql.DB behind raw SQL,
// matching the teacher's db.GetDB()/wrapTransaction shape. Every accessor
// returns (error, *T) — error first — by the teacher's convention, not
// Go's usual (*T, error).
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/soloap/soloap/domain"
)

// querier is the subset of *sql.DB / *sql.Tx every accessor below runs
// its statements against, so the same method works unchanged whether it
// executes directly on the pool or inside a WithEntityTx transaction.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// DB wraps the singleton *sql.DB connection pool. tx is non-nil only for
// the transaction-scoped instance handed to a WithEntityTx callback.
type DB struct {
	conn *sql.DB
	tx   *sql.Tx
}

func (d *DB) q() querier {
	if d.tx != nil {
		return d.tx
	}
	return d.conn
}

var (
	once     sync.Once
	instance *DB
	initErr  error
)

// Open initializes the singleton connection (idempotent on repeat calls
// with the same path), running every migration in order and tuning the
// journal mode/busy timeout PRAGMAs the way the teacher's CreateDB does.
func Open(path string) (error, *DB) {
	once.Do(func() {
		conn, err := sql.Open("sqlite", path)
		if err != nil {
			initErr = fmt.Errorf("open sqlite: %w", err)
			return
		}
		conn.SetMaxOpenConns(1)

		pragmas := []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA busy_timeout=5000;",
			"PRAGMA foreign_keys=ON;",
			"PRAGMA synchronous=NORMAL;",
		}
		for _, p := range pragmas {
			if _, err := conn.Exec(p); err != nil {
				initErr = fmt.Errorf("pragma %q: %w", p, err)
				return
			}
		}

		for _, stmt := range migrations {
			if _, err := conn.Exec(stmt); err != nil {
				initErr = fmt.Errorf("migration failed: %w\n%s", err, stmt)
				return
			}
		}

		instance = &DB{conn: conn}
	})
	return initErr, instance
}

// GetDB returns the already-initialized singleton. Callers must call Open
// once at startup first.
func GetDB() *DB {
	if instance == nil {
		panic("db: GetDB called before Open")
	}
	return instance
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// wrapTransaction runs fn inside a transaction, retrying on SQLITE_BUSY up
// to 5 times with a short backoff, matching the teacher's busy-retry loop
// for sqlite's single-writer model.
func (d *DB) wrapTransaction(fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		tx, err := d.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isSQLiteBusy(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
				continue
			}
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("tx gave up after retries: %w", lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}

// ErrNotFound is returned by single-row readers when no row matches.
var ErrNotFound = errors.New("not found")

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringOrNil(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func uuidOrNil(ns sql.NullString) *uuid.UUID {
	if !ns.Valid {
		return nil
	}
	id := uuid.MustParse(ns.String)
	return &id
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeOrNil(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intOrNil(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// ---------------------------------------------------------------- Users --

func (d *DB) CreateUser(u *domain.User) error {
	_, err := d.q().Exec(
		`INSERT INTO users (id, created_at, last_fetched_at, handle, name, host, inbox, shared_inbox, public_key_pem, uri, avatar_url, banner_url, manually_approves_followers, is_bot, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Id.String(), u.CreatedAt, u.LastFetchedAt, u.Handle, nullableString(u.Name), u.Host, u.Inbox,
		nullableString(u.SharedInbox), u.PublicKeyPem, u.Uri, nullableString(u.AvatarUrl), nullableString(u.BannerUrl),
		u.ManuallyApprovesFollowers, u.IsBot, nullableString(u.Description),
	)
	return err
}

// UpsertUserByURI inserts a user or updates the existing row sharing its
// uri, keeping replayed Update(Person) activities idempotent.
func (d *DB) UpsertUserByURI(u *domain.User) error {
	_, err := d.q().Exec(
		`INSERT INTO users (id, created_at, last_fetched_at, handle, name, host, inbox, shared_inbox, public_key_pem, uri, avatar_url, banner_url, manually_approves_followers, is_bot, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET
		   last_fetched_at=excluded.last_fetched_at, handle=excluded.handle, name=excluded.name,
		   inbox=excluded.inbox, shared_inbox=excluded.shared_inbox, public_key_pem=excluded.public_key_pem,
		   avatar_url=excluded.avatar_url, banner_url=excluded.banner_url,
		   manually_approves_followers=excluded.manually_approves_followers, is_bot=excluded.is_bot,
		   description=excluded.description`,
		u.Id.String(), u.CreatedAt, u.LastFetchedAt, u.Handle, nullableString(u.Name), u.Host, u.Inbox,
		nullableString(u.SharedInbox), u.PublicKeyPem, u.Uri, nullableString(u.AvatarUrl), nullableString(u.BannerUrl),
		u.ManuallyApprovesFollowers, u.IsBot, nullableString(u.Description),
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (error, *domain.User) {
	var u domain.User
	var id string
	var name, sharedInbox, avatarUrl, bannerUrl, description sql.NullString
	err := row.Scan(&id, &u.CreatedAt, &u.LastFetchedAt, &u.Handle, &name, &u.Host, &u.Inbox,
		&sharedInbox, &u.PublicKeyPem, &u.Uri, &avatarUrl, &bannerUrl,
		&u.ManuallyApprovesFollowers, &u.IsBot, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	u.Id = uuid.MustParse(id)
	u.Name = stringOrNil(name)
	u.SharedInbox = stringOrNil(sharedInbox)
	u.AvatarUrl = stringOrNil(avatarUrl)
	u.BannerUrl = stringOrNil(bannerUrl)
	u.Description = stringOrNil(description)
	return nil, &u
}

const selectUserCols = `id, created_at, last_fetched_at, handle, name, host, inbox, shared_inbox, public_key_pem, uri, avatar_url, banner_url, manually_approves_followers, is_bot, description`

func (d *DB) ReadUserByID(id uuid.UUID) (error, *domain.User) {
	row := d.q().QueryRow(`SELECT `+selectUserCols+` FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

func (d *DB) ReadUserByURI(uri string) (error, *domain.User) {
	row := d.q().QueryRow(`SELECT `+selectUserCols+` FROM users WHERE uri = ?`, uri)
	return scanUser(row)
}

func (d *DB) ReadUserByHandleHost(handle, host string) (error, *domain.User) {
	row := d.q().QueryRow(`SELECT `+selectUserCols+` FROM users WHERE handle = ? AND host = ?`, handle, host)
	return scanUser(row)
}

func (d *DB) DeleteUser(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM users WHERE id = ?`, id.String())
	return err
}

// ---------------------------------------------------------------- Posts --

func (d *DB) CreatePost(p *domain.Post) error {
	_, err := d.q().Exec(
		`INSERT INTO posts (id, created_at, reply_id, repost_id, text, title, user_id, visibility, is_sensitive, uri, source_content, source_media_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Id.String(), p.CreatedAt, nullableUUID(p.ReplyId), nullableUUID(p.RepostId), p.Text, nullableString(p.Title),
		nullableUUID(p.UserId), string(p.Visibility), p.IsSensitive, p.Uri, nullableString(p.SourceContent), nullableString(p.SourceMediaType),
	)
	return err
}

// UpsertPostByURI inserts a post or updates it in place keyed by uri, so
// duplicate Create(Note)/Announce deliveries produce exactly one row.
func (d *DB) UpsertPostByURI(p *domain.Post) error {
	_, err := d.q().Exec(
		`INSERT INTO posts (id, created_at, reply_id, repost_id, text, title, user_id, visibility, is_sensitive, uri, source_content, source_media_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET
		   text=excluded.text, title=excluded.title, visibility=excluded.visibility,
		   is_sensitive=excluded.is_sensitive, source_content=excluded.source_content,
		   source_media_type=excluded.source_media_type`,
		p.Id.String(), p.CreatedAt, nullableUUID(p.ReplyId), nullableUUID(p.RepostId), p.Text, nullableString(p.Title),
		nullableUUID(p.UserId), string(p.Visibility), p.IsSensitive, p.Uri, nullableString(p.SourceContent), nullableString(p.SourceMediaType),
	)
	return err
}

func scanPost(row interface{ Scan(...any) error }) (error, *domain.Post) {
	var p domain.Post
	var id string
	var replyId, repostId, userId sql.NullString
	var title, sourceContent, sourceMediaType sql.NullString
	var visibility string
	err := row.Scan(&id, &p.CreatedAt, &replyId, &repostId, &p.Text, &title, &userId, &visibility,
		&p.IsSensitive, &p.Uri, &sourceContent, &sourceMediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	p.Id = uuid.MustParse(id)
	p.ReplyId = uuidOrNil(replyId)
	p.RepostId = uuidOrNil(repostId)
	p.UserId = uuidOrNil(userId)
	p.Title = stringOrNil(title)
	p.SourceContent = stringOrNil(sourceContent)
	p.SourceMediaType = stringOrNil(sourceMediaType)
	p.Visibility = domain.Visibility(visibility)
	return nil, &p
}

const selectPostCols = `id, created_at, reply_id, repost_id, text, title, user_id, visibility, is_sensitive, uri, source_content, source_media_type`

func (d *DB) ReadPostByID(id uuid.UUID) (error, *domain.Post) {
	row := d.q().QueryRow(`SELECT `+selectPostCols+` FROM posts WHERE id = ?`, id.String())
	return scanPost(row)
}

func (d *DB) ReadPostByURI(uri string) (error, *domain.Post) {
	row := d.q().QueryRow(`SELECT `+selectPostCols+` FROM posts WHERE uri = ?`, uri)
	return scanPost(row)
}

func (d *DB) DeletePostByID(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM posts WHERE id = ?`, id.String())
	return err
}

func (d *DB) DeletePostByURI(uri string) error {
	_, err := d.q().Exec(`DELETE FROM posts WHERE uri = ?`, uri)
	return err
}

// ReadRecentLocalPosts returns the most recent posts authored locally
// (user_id IS NULL), newest first, for the read-only feed export (§4.7).
func (d *DB) ReadRecentLocalPosts(limit int) (error, *[]domain.Post) {
	rows, err := d.q().Query(
		`SELECT `+selectPostCols+` FROM posts WHERE user_id IS NULL ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.Post
	for rows.Next() {
		e, p := scanPost(rows)
		if e != nil {
			return e, nil
		}
		out = append(out, *p)
	}
	return nil, &out
}

// ---------------------------------------------------- Attachments & tags --

func (d *DB) CreateRemoteFile(f *domain.RemoteFile) error {
	_, err := d.q().Exec(
		`INSERT INTO remote_files (post_id, "order", url, media_type, name) VALUES (?, ?, ?, ?, ?)`,
		f.PostId.String(), f.Order, f.Url, f.MediaType, nullableString(f.Name),
	)
	return err
}

func (d *DB) ReadRemoteFilesByPostID(postId uuid.UUID) (error, *[]domain.RemoteFile) {
	rows, err := d.q().Query(`SELECT post_id, "order", url, media_type, name FROM remote_files WHERE post_id = ? ORDER BY "order" ASC`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.RemoteFile
	for rows.Next() {
		var f domain.RemoteFile
		var id string
		var name sql.NullString
		if err := rows.Scan(&id, &f.Order, &f.Url, &f.MediaType, &name); err != nil {
			return err, nil
		}
		f.PostId = uuid.MustParse(id)
		f.Name = stringOrNil(name)
		out = append(out, f)
	}
	return nil, &out
}

func (d *DB) CreateLocalFile(f *domain.LocalFile) error {
	_, err := d.q().Exec(
		`INSERT INTO local_files (id, created_at, object_store_key, object_store_type, media_type, post_id, "order", emoji_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Id.String(), f.CreatedAt, f.ObjectStoreKey, f.ObjectStoreType, f.MediaType,
		nullableUUID(f.PostId), nullableInt(f.Order), nullableString(f.EmojiName),
	)
	return err
}

func scanLocalFile(row interface{ Scan(...any) error }) (error, *domain.LocalFile) {
	var f domain.LocalFile
	var id string
	var postId sql.NullString
	var order sql.NullInt64
	var emojiName sql.NullString
	err := row.Scan(&id, &f.CreatedAt, &f.ObjectStoreKey, &f.ObjectStoreType, &f.MediaType, &postId, &order, &emojiName)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id = uuid.MustParse(id)
	f.PostId = uuidOrNil(postId)
	f.Order = intOrNil(order)
	f.EmojiName = stringOrNil(emojiName)
	return nil, &f
}

const selectLocalFileCols = `id, created_at, object_store_key, object_store_type, media_type, post_id, "order", emoji_name`

func (d *DB) ReadLocalFileByID(id uuid.UUID) (error, *domain.LocalFile) {
	row := d.q().QueryRow(`SELECT `+selectLocalFileCols+` FROM local_files WHERE id = ?`, id.String())
	return scanLocalFile(row)
}

func (d *DB) ReadLocalFilesByPostID(postId uuid.UUID) (error, *[]domain.LocalFile) {
	rows, err := d.q().Query(`SELECT `+selectLocalFileCols+` FROM local_files WHERE post_id = ? ORDER BY "order" ASC`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.LocalFile
	for rows.Next() {
		e, f := scanLocalFile(rows)
		if e != nil {
			return e, nil
		}
		out = append(out, *f)
	}
	return nil, &out
}

func (d *DB) DeleteLocalFile(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM local_files WHERE id = ?`, id.String())
	return err
}

func (d *DB) AttachLocalFileToPost(id, postId uuid.UUID, order int) error {
	_, err := d.q().Exec(`UPDATE local_files SET post_id = ?, "order" = ? WHERE id = ?`, postId.String(), order, id.String())
	return err
}

func (d *DB) AttachEmojiFile(id uuid.UUID, emojiName string) error {
	_, err := d.q().Exec(`UPDATE local_files SET emoji_name = ? WHERE id = ?`, emojiName, id.String())
	return err
}

func (d *DB) CreateMention(m *domain.Mention) error {
	_, err := d.q().Exec(`INSERT INTO mentions (post_id, user_uri, display_name) VALUES (?, ?, ?)
		ON CONFLICT(post_id, user_uri) DO UPDATE SET display_name=excluded.display_name`,
		m.PostId.String(), m.UserUri, m.DisplayName)
	return err
}

func (d *DB) ReadMentionsByPostID(postId uuid.UUID) (error, *[]domain.Mention) {
	rows, err := d.q().Query(`SELECT post_id, user_uri, display_name FROM mentions WHERE post_id = ?`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var id string
		if err := rows.Scan(&id, &m.UserUri, &m.DisplayName); err != nil {
			return err, nil
		}
		m.PostId = uuid.MustParse(id)
		out = append(out, m)
	}
	return nil, &out
}

func (d *DB) CreateHashtag(h *domain.Hashtag) error {
	_, err := d.q().Exec(`INSERT INTO hashtags (post_id, name) VALUES (?, ?) ON CONFLICT(post_id, name) DO NOTHING`,
		h.PostId.String(), h.Name)
	return err
}

func (d *DB) ReadHashtagsByPostID(postId uuid.UUID) (error, *[]domain.Hashtag) {
	rows, err := d.q().Query(`SELECT post_id, name FROM hashtags WHERE post_id = ?`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.Hashtag
	for rows.Next() {
		var h domain.Hashtag
		var id string
		if err := rows.Scan(&id, &h.Name); err != nil {
			return err, nil
		}
		h.PostId = uuid.MustParse(id)
		out = append(out, h)
	}
	return nil, &out
}

func (d *DB) CreatePostEmoji(e *domain.PostEmoji) error {
	_, err := d.q().Exec(`INSERT INTO post_emojis (post_id, name, uri, media_type, image_url) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(post_id, name) DO UPDATE SET uri=excluded.uri, media_type=excluded.media_type, image_url=excluded.image_url`,
		e.PostId.String(), e.Name, e.Uri, e.MediaType, e.ImageUrl)
	return err
}

func (d *DB) ReadPostEmojisByPostID(postId uuid.UUID) (error, *[]domain.PostEmoji) {
	rows, err := d.q().Query(`SELECT post_id, name, uri, media_type, image_url FROM post_emojis WHERE post_id = ?`, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.PostEmoji
	for rows.Next() {
		var e domain.PostEmoji
		var id string
		if err := rows.Scan(&id, &e.Name, &e.Uri, &e.MediaType, &e.ImageUrl); err != nil {
			return err, nil
		}
		e.PostId = uuid.MustParse(id)
		out = append(out, e)
	}
	return nil, &out
}

// ------------------------------------------------------- Follow/Follower --

func (d *DB) CreateFollow(f *domain.Follow) error {
	_, err := d.q().Exec(`INSERT INTO follows (id, created_at, to_id, accepted) VALUES (?, ?, ?, ?)`,
		f.Id.String(), f.CreatedAt, f.ToId.String(), f.Accepted)
	return err
}

func scanFollow(row interface{ Scan(...any) error }) (error, *domain.Follow) {
	var f domain.Follow
	var id, toId string
	err := row.Scan(&id, &f.CreatedAt, &toId, &f.Accepted)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id = uuid.MustParse(id)
	f.ToId = uuid.MustParse(toId)
	return nil, &f
}

func (d *DB) ReadFollowByID(id uuid.UUID) (error, *domain.Follow) {
	row := d.q().QueryRow(`SELECT id, created_at, to_id, accepted FROM follows WHERE id = ?`, id.String())
	return scanFollow(row)
}

func (d *DB) ReadFollowByToID(toId uuid.UUID) (error, *domain.Follow) {
	row := d.q().QueryRow(`SELECT id, created_at, to_id, accepted FROM follows WHERE to_id = ?`, toId.String())
	return scanFollow(row)
}

func (d *DB) AcceptFollowByToID(toId uuid.UUID) error {
	_, err := d.q().Exec(`UPDATE follows SET accepted = 1 WHERE to_id = ?`, toId.String())
	return err
}

func (d *DB) DeleteFollowByID(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM follows WHERE id = ?`, id.String())
	return err
}

func (d *DB) CreateFollower(f *domain.Follower) error {
	_, err := d.q().Exec(`INSERT INTO followers (id, created_at, from_id, uri) VALUES (?, ?, ?, ?)`,
		f.Id.String(), f.CreatedAt, f.FromId.String(), f.Uri)
	return err
}

// UpsertFollowerByURI inserts a follower or leaves the existing row alone
// when its uri already exists, so a replayed Follow activity is a no-op.
func (d *DB) UpsertFollowerByURI(f *domain.Follower) error {
	_, err := d.q().Exec(
		`INSERT INTO followers (id, created_at, from_id, uri) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uri) DO NOTHING
		 ON CONFLICT(from_id) DO UPDATE SET uri=excluded.uri, created_at=excluded.created_at`,
		f.Id.String(), f.CreatedAt, f.FromId.String(), f.Uri)
	return err
}

func scanFollower(row interface{ Scan(...any) error }) (error, *domain.Follower) {
	var f domain.Follower
	var id, fromId string
	err := row.Scan(&id, &f.CreatedAt, &fromId, &f.Uri)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id = uuid.MustParse(id)
	f.FromId = uuid.MustParse(fromId)
	return nil, &f
}

func (d *DB) ReadFollowerByURI(uri string) (error, *domain.Follower) {
	row := d.q().QueryRow(`SELECT id, created_at, from_id, uri FROM followers WHERE uri = ?`, uri)
	return scanFollower(row)
}

func (d *DB) ReadFollowerByFromID(fromId uuid.UUID) (error, *domain.Follower) {
	row := d.q().QueryRow(`SELECT id, created_at, from_id, uri FROM followers WHERE from_id = ?`, fromId.String())
	return scanFollower(row)
}

func (d *DB) DeleteFollowerByURI(uri string) (int64, error) {
	res, err := d.q().Exec(`DELETE FROM followers WHERE uri = ?`, uri)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReadFollowerInboxes returns the distinct set of follower inboxes,
// preferring shared_inbox over inbox per follower's actor (SQL COALESCE),
// for delivery fan-out of Create/Announce/Delete/Update activities.
func (d *DB) ReadFollowerInboxes() (error, *[]string) {
	rows, err := d.q().Query(
		`SELECT DISTINCT COALESCE(u.shared_inbox, u.inbox) FROM followers f JOIN users u ON u.id = f.from_id`,
	)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return err, nil
		}
		out = append(out, inbox)
	}
	return nil, &out
}

// ReadFollowerActorURIs returns the distinct actor uris of everyone
// following the local actor, for the /ap/person/followers collection.
func (d *DB) ReadFollowerActorURIs() (error, *[]string) {
	rows, err := d.q().Query(
		`SELECT DISTINCT u.uri FROM followers f JOIN users u ON u.id = f.from_id ORDER BY u.uri`,
	)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return err, nil
		}
		out = append(out, uri)
	}
	return nil, &out
}

// ReadFollowURIs returns the distinct actor uris the local actor follows,
// for the /ap/person/following collection.
func (d *DB) ReadFollowURIs() (error, *[]string) {
	rows, err := d.q().Query(
		`SELECT DISTINCT u.uri FROM follows f JOIN users u ON u.id = f.to_id ORDER BY u.uri`,
	)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return err, nil
		}
		out = append(out, uri)
	}
	return nil, &out
}

// -------------------------------------------------------------- Reaction --

func (d *DB) CreateReaction(r *domain.Reaction) error {
	_, err := d.q().Exec(
		`INSERT INTO reactions (id, created_at, user_id, post_id, content, uri, emoji_uri, emoji_media_type, emoji_image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Id.String(), r.CreatedAt, nullableUUID(r.UserId), r.PostId.String(), r.Content, r.Uri,
		nullableString(r.EmojiUri), nullableString(r.EmojiMediaType), nullableString(r.EmojiImageUrl),
	)
	return err
}

// UpsertReactionByURI inserts a reaction or updates it in place keyed by
// uri, so replayed Like deliveries produce one row.
func (d *DB) UpsertReactionByURI(r *domain.Reaction) error {
	_, err := d.q().Exec(
		`INSERT INTO reactions (id, created_at, user_id, post_id, content, uri, emoji_uri, emoji_media_type, emoji_image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uri) DO UPDATE SET content=excluded.content, emoji_uri=excluded.emoji_uri,
		   emoji_media_type=excluded.emoji_media_type, emoji_image_url=excluded.emoji_image_url`,
		r.Id.String(), r.CreatedAt, nullableUUID(r.UserId), r.PostId.String(), r.Content, r.Uri,
		nullableString(r.EmojiUri), nullableString(r.EmojiMediaType), nullableString(r.EmojiImageUrl),
	)
	return err
}

func scanReaction(row interface{ Scan(...any) error }) (error, *domain.Reaction) {
	var r domain.Reaction
	var id, postId string
	var userId, emojiUri, emojiMediaType, emojiImageUrl sql.NullString
	err := row.Scan(&id, &r.CreatedAt, &userId, &postId, &r.Content, &r.Uri, &emojiUri, &emojiMediaType, &emojiImageUrl)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	r.Id = uuid.MustParse(id)
	r.PostId = uuid.MustParse(postId)
	r.UserId = uuidOrNil(userId)
	r.EmojiUri = stringOrNil(emojiUri)
	r.EmojiMediaType = stringOrNil(emojiMediaType)
	r.EmojiImageUrl = stringOrNil(emojiImageUrl)
	return nil, &r
}

const selectReactionCols = `id, created_at, user_id, post_id, content, uri, emoji_uri, emoji_media_type, emoji_image_url`

func (d *DB) ReadReactionByURI(uri string) (error, *domain.Reaction) {
	row := d.q().QueryRow(`SELECT `+selectReactionCols+` FROM reactions WHERE uri = ?`, uri)
	return scanReaction(row)
}

func (d *DB) ReadReactionByID(id uuid.UUID) (error, *domain.Reaction) {
	row := d.q().QueryRow(`SELECT `+selectReactionCols+` FROM reactions WHERE id = ?`, id.String())
	return scanReaction(row)
}

// ReadLocalReactionByPostID finds the local actor's own reaction on a
// post, if any (user_id IS NULL). The (user_id, post_id) unique-reaction
// invariant (§3) doesn't hold at the database level for the local actor,
// since every local row stores user_id as NULL and NULLs never collide
// on a unique index; callers enforce it at the application layer instead.
func (d *DB) ReadLocalReactionByPostID(postId uuid.UUID) (error, *domain.Reaction) {
	row := d.q().QueryRow(
		`SELECT `+selectReactionCols+` FROM reactions WHERE post_id = ? AND user_id IS NULL`, postId.String(),
	)
	return scanReaction(row)
}

func (d *DB) DeleteReactionByURI(uri string) (int64, error) {
	res, err := d.q().Exec(`DELETE FROM reactions WHERE uri = ?`, uri)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) DeleteReactionByID(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM reactions WHERE id = ?`, id.String())
	return err
}

// ---------------------------------------------------------------- Emoji --

func (d *DB) CreateEmoji(e *domain.Emoji) error {
	_, err := d.q().Exec(`INSERT INTO emojis (name, created_at) VALUES (?, ?)`, e.Name, e.CreatedAt)
	return err
}

func (d *DB) ReadEmojiByName(name string) (error, *domain.Emoji) {
	row := d.q().QueryRow(`SELECT name, created_at FROM emojis WHERE name = ?`, name)
	var e domain.Emoji
	err := row.Scan(&e.Name, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &e
}

func (d *DB) DeleteEmoji(name string) error {
	_, err := d.q().Exec(`DELETE FROM emojis WHERE name = ?`, name)
	return err
}

// --------------------------------------------------------------- Report --

func (d *DB) CreateReport(r *domain.Report) error {
	_, err := d.q().Exec(`INSERT INTO reports (id, created_at, from_user_id, content) VALUES (?, ?, ?, ?)`,
		r.Id.String(), r.CreatedAt, r.FromUserId.String(), r.Content)
	return err
}

func (d *DB) ReadReportByID(id uuid.UUID) (error, *domain.Report) {
	row := d.q().QueryRow(`SELECT id, created_at, from_user_id, content FROM reports WHERE id = ?`, id.String())
	var r domain.Report
	var rid, fromId string
	err := row.Scan(&rid, &r.CreatedAt, &fromId, &r.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	r.Id = uuid.MustParse(rid)
	r.FromUserId = uuid.MustParse(fromId)
	return nil, &r
}

// -------------------------------------------------------------- Setting --

// ReadSetting returns the Setting row with the given id (the singleton
// uses idgen.Nil), or ErrNotFound when it does not exist; it does not
// create the row.
func (d *DB) ReadSetting(id uuid.UUID) (error, *domain.Setting) {
	row := d.q().QueryRow(
		`SELECT id, instance_name, user_name, user_public_key, user_private_key, avatar_file_id, banner_file_id,
		        description, maintainer_name, maintainer_email, theme_color, object_store_type, s3_bucket, s3_region, s3_endpoint, fs_base_path
		 FROM settings WHERE id = ?`, id.String())

	var s domain.Setting
	var sid string
	var instanceName, userName, description, maintainerName, maintainerEmail, themeColor sql.NullString
	var avatarFileId, bannerFileId sql.NullString
	var s3Bucket, s3Region, s3Endpoint, fsBasePath sql.NullString
	err := row.Scan(&sid, &instanceName, &userName, &s.UserPublicKey, &s.UserPrivateKey, &avatarFileId, &bannerFileId,
		&description, &maintainerName, &maintainerEmail, &themeColor, &s.ObjectStoreType, &s3Bucket, &s3Region, &s3Endpoint, &fsBasePath)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	s.Id = uuid.MustParse(sid)
	s.InstanceName = stringOrNil(instanceName)
	s.UserName = stringOrNil(userName)
	s.AvatarFileId = uuidOrNil(avatarFileId)
	s.BannerFileId = uuidOrNil(bannerFileId)
	s.Description = stringOrNil(description)
	s.MaintainerName = stringOrNil(maintainerName)
	s.MaintainerEmail = stringOrNil(maintainerEmail)
	s.ThemeColor = stringOrNil(themeColor)
	s.S3Bucket = stringOrNil(s3Bucket)
	s.S3Region = stringOrNil(s3Region)
	s.S3Endpoint = stringOrNil(s3Endpoint)
	s.FsBasePath = stringOrNil(fsBasePath)
	return nil, &s
}

func (d *DB) CreateSetting(s *domain.Setting) error {
	_, err := d.q().Exec(
		`INSERT INTO settings (id, instance_name, user_name, user_public_key, user_private_key, avatar_file_id, banner_file_id,
		                        description, maintainer_name, maintainer_email, theme_color, object_store_type, s3_bucket, s3_region, s3_endpoint, fs_base_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Id.String(), nullableString(s.InstanceName), nullableString(s.UserName), s.UserPublicKey, s.UserPrivateKey,
		nullableUUID(s.AvatarFileId), nullableUUID(s.BannerFileId), nullableString(s.Description),
		nullableString(s.MaintainerName), nullableString(s.MaintainerEmail), nullableString(s.ThemeColor),
		s.ObjectStoreType, nullableString(s.S3Bucket), nullableString(s.S3Region), nullableString(s.S3Endpoint), nullableString(s.FsBasePath),
	)
	return err
}

func (d *DB) UpdateSetting(s *domain.Setting) error {
	_, err := d.q().Exec(
		`UPDATE settings SET instance_name=?, user_name=?, avatar_file_id=?, banner_file_id=?, description=?,
		                      maintainer_name=?, maintainer_email=?, theme_color=?, object_store_type=?,
		                      s3_bucket=?, s3_region=?, s3_endpoint=?, fs_base_path=?
		 WHERE id = ?`,
		nullableString(s.InstanceName), nullableString(s.UserName), nullableUUID(s.AvatarFileId), nullableUUID(s.BannerFileId),
		nullableString(s.Description), nullableString(s.MaintainerName), nullableString(s.MaintainerEmail), nullableString(s.ThemeColor),
		s.ObjectStoreType, nullableString(s.S3Bucket), nullableString(s.S3Region), nullableString(s.S3Endpoint), nullableString(s.FsBasePath),
		s.Id.String(),
	)
	return err
}

// ------------------------------------------------------------ AccessKey --

func (d *DB) CreateAccessKey(k *domain.AccessKey) error {
	_, err := d.q().Exec(`INSERT INTO access_keys (id, name, created_at, last_used_at) VALUES (?, ?, ?, ?)`,
		k.Id.String(), k.Name, k.CreatedAt, nullableTime(k.LastUsedAt))
	return err
}

func (d *DB) ReadAccessKeyByID(id uuid.UUID) (error, *domain.AccessKey) {
	row := d.q().QueryRow(`SELECT id, name, created_at, last_used_at FROM access_keys WHERE id = ?`, id.String())
	var k domain.AccessKey
	var kid string
	var lastUsed sql.NullTime
	err := row.Scan(&kid, &k.Name, &k.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound, nil
	}
	if err != nil {
		return err, nil
	}
	k.Id = uuid.MustParse(kid)
	k.LastUsedAt = timeOrNil(lastUsed)
	return nil, &k
}

func (d *DB) TouchAccessKey(id uuid.UUID, at time.Time) error {
	_, err := d.q().Exec(`UPDATE access_keys SET last_used_at = ? WHERE id = ?`, at, id.String())
	return err
}

func (d *DB) DeleteAccessKey(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM access_keys WHERE id = ?`, id.String())
	return err
}

// ---------------------------------------------------------- DeliveryQueue --

func (d *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	_, err := d.q().Exec(
		`INSERT INTO delivery_queue (id, created_at, inbox_url, payload, attempts, next_retry, last_error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Id.String(), item.CreatedAt, item.InboxUrl, item.Payload, item.Attempts, item.NextRetry, nullableString(item.LastError),
	)
	return err
}

func (d *DB) ReadDueDeliveries(now time.Time, limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := d.q().Query(
		`SELECT id, created_at, inbox_url, payload, attempts, next_retry, last_error FROM delivery_queue WHERE next_retry <= ? ORDER BY next_retry ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return err, nil
	}
	defer rows.Close()
	var out []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var id string
		var lastError sql.NullString
		if err := rows.Scan(&id, &item.CreatedAt, &item.InboxUrl, &item.Payload, &item.Attempts, &item.NextRetry, &lastError); err != nil {
			return err, nil
		}
		item.Id = uuid.MustParse(id)
		item.LastError = stringOrNil(lastError)
		out = append(out, item)
	}
	return nil, &out
}

func (d *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, lastError string) error {
	_, err := d.q().Exec(`UPDATE delivery_queue SET attempts = ?, next_retry = ?, last_error = ? WHERE id = ?`,
		attempts, nextRetry, lastError, id.String())
	return err
}

func (d *DB) DeleteDelivery(id uuid.UUID) error {
	_, err := d.q().Exec(`DELETE FROM delivery_queue WHERE id = ?`, id.String())
	return err
}

// WithTx exposes the busy-retry transaction wrapper to callers that must
// apply several writes atomically at the *sql.Tx level.
func (d *DB) WithTx(fn func(tx *sql.Tx) error) error {
	return d.wrapTransaction(fn)
}

// WithEntityTx runs fn against a *DB bound to a single transaction, so
// every nested accessor call fn makes (CreatePost, CreateMention, and so
// on) commits or rolls back together. This is what the inbox engine uses
// to apply a post plus its attachments/tags atomically (§4.2 "Apply side
// effects inside a transaction").
func (d *DB) WithEntityTx(fn func(tx *DB) error) error {
	return d.wrapTransaction(func(sqltx *sql.Tx) error {
		return fn(&DB{conn: d.conn, tx: sqltx})
	})
}
