package activitypub

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/notify"
)

func mustULID() uuid.UUID { return idgen.New() }

const localPersonURI = "https://d.example/ap/person"

func newTestDeps() (InboxDeps, *mockDB, *fakeHTTPClient) {
	db := newMockDB()
	client := newFakeHTTPClient()
	bus := notify.NewBus()
	return InboxDeps{DB: db, Client: client, Bus: bus, LocalPersonURI: localPersonURI}, db, client
}

func drainOne(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Event{}
	}
}

// TestInboxFollow_S1 is scenario S1: a remote Follow of the local Person
// creates a Follower row keyed by the activity uri.
func TestInboxFollow_S1(t *testing.T) {
	deps, db, _ := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	db.addUser(&domain.User{
		Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(),
		Handle: "alice", Host: "r.example", Inbox: "https://r.example/users/alice/inbox",
		PublicKeyPem: "PEM", Uri: "https://r.example/users/alice",
	})

	body := []byte(`{"id":"https://r.example/acts/1","type":"Follow","actor":"https://r.example/users/alice","object":"` + localPersonURI + `"}`)
	if err := handleFollow(deps, body); err != nil {
		t.Fatalf("handleFollow: %v", err)
	}

	err, follower := db.ReadFollowerByURI("https://r.example/acts/1")
	if err != nil {
		t.Fatalf("expected follower row, got error: %v", err)
	}
	if follower.Uri != "https://r.example/acts/1" {
		t.Errorf("follower.Uri = %q", follower.Uri)
	}

	evt := drainOne(t, sub)
	if evt.Type != notify.KindCreateFollower {
		t.Errorf("event type = %v, want CreateFollower", evt.Type)
	}
}

// TestInboxFollow_DomainMismatch rejects a Follow whose actor and id hosts
// differ (§4.2 domain rule table).
func TestInboxFollow_DomainMismatch(t *testing.T) {
	deps, db, _ := newTestDeps()
	db.addUser(&domain.User{
		Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(),
		Handle: "alice", Host: "r.example", Inbox: "https://r.example/users/alice/inbox",
		PublicKeyPem: "PEM", Uri: "https://r.example/users/alice",
	})

	body := []byte(`{"id":"https://other.example/acts/1","type":"Follow","actor":"https://r.example/users/alice","object":"` + localPersonURI + `"}`)
	err := handleFollow(deps, body)
	if err == nil {
		t.Fatal("expected domain mismatch error")
	}
	if _, ok := err.(*domainMismatchError); !ok {
		t.Errorf("expected *domainMismatchError, got %T", err)
	}
}

// TestInboxAccept marks the local outbound Follow accepted.
func TestInboxAccept(t *testing.T) {
	deps, db, _ := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	remote := &domain.User{
		Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(),
		Handle: "bob", Host: "r.example", Inbox: "https://r.example/users/bob/inbox",
		PublicKeyPem: "PEM", Uri: "https://r.example/users/bob",
	}
	db.addUser(remote)
	if err := db.CreateFollow(&domain.Follow{Id: mustULID(), CreatedAt: time.Now(), ToId: remote.Id, Accepted: false}); err != nil {
		t.Fatalf("seed follow: %v", err)
	}

	body := []byte(`{
		"id": "https://r.example/acts/accept/1",
		"type": "Accept",
		"actor": "https://r.example/users/bob",
		"object": {"id": "https://d.example/ap/follow/1", "type": "Follow", "actor": "` + localPersonURI + `", "object": "https://r.example/users/bob"}
	}`)
	if err := handleAccept(deps, body); err != nil {
		t.Fatalf("handleAccept: %v", err)
	}

	err, follow := db.ReadFollowByToID(remote.Id)
	if err != nil {
		t.Fatalf("read follow: %v", err)
	}
	if !follow.Accepted {
		t.Error("expected follow.Accepted = true")
	}
	evt := drainOne(t, sub)
	if evt.Type != notify.KindAcceptFollow {
		t.Errorf("event type = %v, want AcceptFollow", evt.Type)
	}
}

// TestInboxUndoFollow_S4 is scenario S4: two successive Undo(Follow)
// deliveries; the first deletes the Follower, the second is a no-op.
func TestInboxUndoFollow_S4(t *testing.T) {
	deps, db, _ := newTestDeps()

	alice := &domain.User{
		Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(),
		Handle: "alice", Host: "r.example", Inbox: "https://r.example/users/alice/inbox",
		PublicKeyPem: "PEM", Uri: "https://r.example/users/alice",
	}
	db.addUser(alice)
	db.addFollower(&domain.Follower{Id: mustULID(), CreatedAt: time.Now(), FromId: alice.Id, Uri: "https://r.example/acts/1"})

	body := []byte(`{
		"id": "https://r.example/acts/undo/1",
		"type": "Undo",
		"actor": "https://r.example/users/alice",
		"object": {"id": "https://r.example/acts/1", "type": "Follow", "actor": "https://r.example/users/alice", "object": "` + localPersonURI + `"}
	}`)

	if err := handleUndo(deps, body); err != nil {
		t.Fatalf("first Undo(Follow): %v", err)
	}
	if err, _ := db.ReadFollowerByURI("https://r.example/acts/1"); err == nil {
		t.Error("expected follower deleted after first Undo")
	}

	// replay: must be a no-op success, not an error (idempotence property 6)
	if err := handleUndo(deps, body); err != nil {
		t.Fatalf("second Undo(Follow) should succeed idempotently: %v", err)
	}
}

// TestInboxUndoLike_NotFoundOnMissing is the asymmetric half of property 6:
// Undo(Like) on a missing reaction is NOT_FOUND, unlike Undo(Follow).
func TestInboxUndoLike_NotFoundOnMissing(t *testing.T) {
	deps, _, _ := newTestDeps()

	body := []byte(`{
		"id": "https://r.example/acts/undo/2",
		"type": "Undo",
		"actor": "https://r.example/users/alice",
		"object": {"id": "https://r.example/acts/like/1", "type": "Like", "actor": "https://r.example/users/alice", "object": "https://d.example/ap/note/1"}
	}`)

	err := handleUndo(deps, body)
	if err != errReactionNotFound {
		t.Errorf("expected errReactionNotFound, got %v", err)
	}
}

func TestInboxUndoLike_DeletesExisting(t *testing.T) {
	deps, db, _ := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	postId := mustULID()
	db.CreateReaction(&domain.Reaction{Id: mustULID(), CreatedAt: time.Now(), PostId: postId, Content: "❤", Uri: "https://r.example/acts/like/1"})

	body := []byte(`{
		"id": "https://r.example/acts/undo/3",
		"type": "Undo",
		"actor": "https://r.example/users/alice",
		"object": {"id": "https://r.example/acts/like/1", "type": "Like", "actor": "https://r.example/users/alice", "object": "https://d.example/ap/note/1"}
	}`)
	if err := handleUndo(deps, body); err != nil {
		t.Fatalf("handleUndo: %v", err)
	}
	if err, _ := db.ReadReactionByURI("https://r.example/acts/like/1"); err == nil {
		t.Error("expected reaction deleted")
	}
	evt := drainOne(t, sub)
	if evt.Type != notify.KindDeleteReaction {
		t.Errorf("event type = %v, want DeleteReaction", evt.Type)
	}
}

// TestInboxCreateWithMention_S2 is scenario S2: a Note mentioning the local
// Person publishes CreatePost and Mentioned.
func TestInboxCreateWithMention_S2(t *testing.T) {
	deps, db, client := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	client.on("https://r.example/users/alice", http.StatusOK, alicePersonJSON)

	body := []byte(`{
		"id": "https://r.example/acts/create/1",
		"type": "Create",
		"actor": "https://r.example/users/alice",
		"object": {
			"id": "https://r.example/notes/1",
			"type": "Note",
			"attributedTo": "https://r.example/users/alice",
			"published": "2026-01-01T00:00:00Z",
			"content": "hi @owner",
			"to": ["` + ActivityStreamsPublic + `"],
			"cc": ["` + localPersonURI + `/followers"],
			"tag": [{"type": "Mention", "href": "` + localPersonURI + `", "name": "@owner"}]
		}
	}`)

	if err := handleCreate(deps, body); err != nil {
		t.Fatalf("handleCreate: %v", err)
	}

	err, post := db.ReadPostByURI("https://r.example/notes/1")
	if err != nil {
		t.Fatalf("expected post row: %v", err)
	}
	if post.Visibility != domain.VisibilityPublic {
		t.Errorf("visibility = %v, want Public", post.Visibility)
	}

	evt1 := drainOne(t, sub)
	evt2 := drainOne(t, sub)
	kinds := map[notify.Kind]bool{evt1.Type: true, evt2.Type: true}
	if !kinds[notify.KindCreatePost] || !kinds[notify.KindMentioned] {
		t.Errorf("expected CreatePost and Mentioned events, got %v, %v", evt1.Type, evt2.Type)
	}
}

// TestInboxAnnounce_S3 is scenario S3: an Announce of a remote note creates
// a Post row with repost_id set and empty text.
func TestInboxAnnounce_S3(t *testing.T) {
	deps, db, client := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	client.on("https://r.example/users/bob", http.StatusOK, strings.ReplaceAll(alicePersonJSON, "alice", "bob"))
	client.on("https://r.example/notes/7", http.StatusOK, `{
		"id": "https://r.example/notes/7",
		"type": "Note",
		"attributedTo": "https://r.example/users/bob",
		"content": "original"
	}`)

	body := []byte(`{
		"id": "https://r.example/acts/announce/1",
		"type": "Announce",
		"actor": "https://r.example/users/bob",
		"object": "https://r.example/notes/7"
	}`)

	if err := handleAnnounce(deps, body); err != nil {
		t.Fatalf("handleAnnounce: %v", err)
	}

	err, post := db.ReadPostByURI("https://r.example/acts/announce/1")
	if err != nil {
		t.Fatalf("expected announce post row: %v", err)
	}
	if post.Text != "" {
		t.Errorf("Text = %q, want empty for pure announce", post.Text)
	}
	if post.RepostId == nil {
		t.Fatal("expected RepostId to be set")
	}
	if post.Kind() != domain.PostKindAnnounce {
		t.Errorf("Kind() = %v, want PostKindAnnounce", post.Kind())
	}

	evt := drainOne(t, sub)
	if evt.Type != notify.KindCreatePost {
		t.Errorf("event type = %v, want CreatePost", evt.Type)
	}
}

func TestInboxDelete_IdempotentOnReplay(t *testing.T) {
	deps, db, _ := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	post := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "bye", Visibility: domain.VisibilityPublic, Uri: "https://r.example/notes/1"}
	if err := db.UpsertPostByURI(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	body := []byte(`{"id":"https://r.example/acts/delete/1","type":"Delete","actor":"https://r.example/users/alice","object":{"id":"https://r.example/notes/1","type":"Tombstone"}}`)
	if err := handleDelete(deps, body); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err, _ := db.ReadPostByURI("https://r.example/notes/1"); err == nil {
		t.Error("expected post deleted")
	}
	evt := drainOne(t, sub)
	if evt.Type != notify.KindDeletePost {
		t.Errorf("event type = %v, want DeletePost", evt.Type)
	}

	// replay: absence is tolerated, not an error (idempotence)
	if err := handleDelete(deps, body); err != nil {
		t.Fatalf("replayed Delete should be a no-op: %v", err)
	}
}

func TestInboxLike_UpsertIdempotent(t *testing.T) {
	deps, db, client := newTestDeps()
	client.on("https://r.example/users/alice", http.StatusOK, alicePersonJSON)

	post := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "hi", Visibility: domain.VisibilityPublic, Uri: "https://d.example/ap/note/1"}
	if err := db.UpsertPostByURI(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	body := []byte(`{"id":"https://r.example/acts/like/1","type":"Like","actor":"https://r.example/users/alice","object":"https://d.example/ap/note/1"}`)

	if err := handleLike(deps, body); err != nil {
		t.Fatalf("first Like: %v", err)
	}
	if err := handleLike(deps, body); err != nil {
		t.Fatalf("replayed Like: %v", err)
	}

	// exactly one row should exist for this uri regardless of replay count
	if err, r := db.ReadReactionByURI("https://r.example/acts/like/1"); err != nil {
		t.Fatalf("expected reaction row: %v", err)
	} else if r.Content != "❤️" {
		t.Errorf("Content = %q, want default heart", r.Content)
	}
}

func TestInboxFlag_CreatesReport(t *testing.T) {
	deps, db, client := newTestDeps()
	sub, cancel := deps.Bus.Subscribe()
	defer cancel()

	client.on("https://r.example/users/alice", http.StatusOK, alicePersonJSON)

	body := []byte(`{"id":"https://r.example/acts/flag/1","type":"Flag","actor":"https://r.example/users/alice","object":"https://d.example/ap/note/1","content":"spam"}`)
	if err := handleFlag(deps, body); err != nil {
		t.Fatalf("handleFlag: %v", err)
	}
	if len(db.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(db.reports))
	}
	if db.reports[0].Content != "spam" {
		t.Errorf("Content = %q", db.reports[0].Content)
	}
	evt := drainOne(t, sub)
	if evt.Type != notify.KindCreateReport {
		t.Errorf("event type = %v, want CreateReport", evt.Type)
	}
}
