package db

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	last_fetched_at TIMESTAMP NOT NULL,
	handle TEXT NOT NULL,
	name TEXT,
	host TEXT NOT NULL,
	inbox TEXT NOT NULL,
	shared_inbox TEXT,
	public_key_pem TEXT NOT NULL,
	uri TEXT NOT NULL,
	avatar_url TEXT,
	banner_url TEXT,
	manually_approves_followers BOOLEAN NOT NULL DEFAULT 0,
	is_bot BOOLEAN NOT NULL DEFAULT 0,
	description TEXT
);`

const createUsersUriIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_uri ON users(uri);`
const createUsersHandleHostIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_handle_host ON users(handle, host);`

const createPostsTable = `
CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	reply_id TEXT,
	repost_id TEXT,
	text TEXT NOT NULL,
	title TEXT,
	user_id TEXT,
	visibility TEXT NOT NULL,
	is_sensitive BOOLEAN NOT NULL DEFAULT 0,
	uri TEXT NOT NULL,
	source_content TEXT,
	source_media_type TEXT,
	FOREIGN KEY (reply_id) REFERENCES posts(id) ON DELETE SET NULL,
	FOREIGN KEY (repost_id) REFERENCES posts(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);`

const createPostsUriIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_uri ON posts(uri);`
const createPostsUserIdx = `CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);`
const createPostsReplyIdx = `CREATE INDEX IF NOT EXISTS idx_posts_reply_id ON posts(reply_id);`
const createPostsRepostIdx = `CREATE INDEX IF NOT EXISTS idx_posts_repost_id ON posts(repost_id);`

const createRemoteFilesTable = `
CREATE TABLE IF NOT EXISTS remote_files (
	post_id TEXT NOT NULL,
	"order" INTEGER NOT NULL,
	url TEXT NOT NULL,
	media_type TEXT NOT NULL,
	name TEXT,
	PRIMARY KEY (post_id, "order"),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const createLocalFilesTable = `
CREATE TABLE IF NOT EXISTS local_files (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	object_store_key TEXT NOT NULL,
	object_store_type TEXT NOT NULL,
	media_type TEXT NOT NULL,
	post_id TEXT,
	"order" INTEGER,
	emoji_name TEXT,
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const createLocalFilesPostOrderIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_local_files_post_order ON local_files(post_id, "order") WHERE post_id IS NOT NULL;`
const createLocalFilesEmojiIdx = `CREATE INDEX IF NOT EXISTS idx_local_files_emoji_name ON local_files(emoji_name);`

const createMentionsTable = `
CREATE TABLE IF NOT EXISTS mentions (
	post_id TEXT NOT NULL,
	user_uri TEXT NOT NULL,
	display_name TEXT NOT NULL,
	PRIMARY KEY (post_id, user_uri),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const createHashtagsTable = `
CREATE TABLE IF NOT EXISTS hashtags (
	post_id TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (post_id, name),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const createPostEmojisTable = `
CREATE TABLE IF NOT EXISTS post_emojis (
	post_id TEXT NOT NULL,
	name TEXT NOT NULL,
	uri TEXT NOT NULL,
	media_type TEXT NOT NULL,
	image_url TEXT NOT NULL,
	PRIMARY KEY (post_id, name),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const createFollowsTable = `
CREATE TABLE IF NOT EXISTS follows (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	to_id TEXT NOT NULL,
	accepted BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (to_id) REFERENCES users(id) ON DELETE CASCADE
);`

const createFollowsToIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_to_id ON follows(to_id);`

const createFollowersTable = `
CREATE TABLE IF NOT EXISTS followers (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	from_id TEXT NOT NULL,
	uri TEXT NOT NULL,
	FOREIGN KEY (from_id) REFERENCES users(id) ON DELETE CASCADE
);`

const createFollowersFromIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_followers_from_id ON followers(from_id);`
const createFollowersUriIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_followers_uri ON followers(uri);`

const createReactionsTable = `
CREATE TABLE IF NOT EXISTS reactions (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	user_id TEXT,
	post_id TEXT NOT NULL,
	content TEXT NOT NULL,
	uri TEXT NOT NULL,
	emoji_uri TEXT,
	emoji_media_type TEXT,
	emoji_image_url TEXT,
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);`

const createReactionsUriIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_reactions_uri ON reactions(uri);`
const createReactionsUserPostIdx = `CREATE UNIQUE INDEX IF NOT EXISTS idx_reactions_user_post ON reactions(user_id, post_id);`

const createEmojisTable = `
CREATE TABLE IF NOT EXISTS emojis (
	name TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);`

const createReportsTable = `
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	from_user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	FOREIGN KEY (from_user_id) REFERENCES users(id) ON DELETE CASCADE
);`

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
	id TEXT PRIMARY KEY,
	instance_name TEXT,
	user_name TEXT,
	user_public_key TEXT NOT NULL,
	user_private_key TEXT NOT NULL,
	avatar_file_id TEXT,
	banner_file_id TEXT,
	description TEXT,
	maintainer_name TEXT,
	maintainer_email TEXT,
	theme_color TEXT,
	object_store_type TEXT NOT NULL DEFAULT 'local',
	s3_bucket TEXT,
	s3_region TEXT,
	s3_endpoint TEXT,
	fs_base_path TEXT
);`

const createAccessKeysTable = `
CREATE TABLE IF NOT EXISTS access_keys (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP
);`

const createDeliveryQueueTable = `
CREATE TABLE IF NOT EXISTS delivery_queue (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	inbox_url TEXT NOT NULL,
	payload TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	next_retry TIMESTAMP NOT NULL,
	last_error TEXT
);`

const createDeliveryQueueNextRetryIdx = `CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry);`

// migrations runs every idempotent CREATE TABLE/INDEX statement in
// dependency order. Schema migrations beyond this are an external concern.
var migrations = []string{
	createUsersTable,
	createUsersUriIdx,
	createUsersHandleHostIdx,
	createPostsTable,
	createPostsUriIdx,
	createPostsUserIdx,
	createPostsReplyIdx,
	createPostsRepostIdx,
	createRemoteFilesTable,
	createLocalFilesTable,
	createLocalFilesPostOrderIdx,
	createLocalFilesEmojiIdx,
	createMentionsTable,
	createHashtagsTable,
	createPostEmojisTable,
	createFollowsTable,
	createFollowsToIdx,
	createFollowersTable,
	createFollowersFromIdx,
	createFollowersUriIdx,
	createReactionsTable,
	createReactionsUriIdx,
	createReactionsUserPostIdx,
	createEmojisTable,
	createReportsTable,
	createSettingsTable,
	createAccessKeysTable,
	createDeliveryQueueTable,
	createDeliveryQueueNextRetryIdx,
}
