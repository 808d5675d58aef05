package activitypub

import (
	"testing"
	"time"

	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/util"
)

func newOutboxTestDeps() (OutboxDeps, *mockDB) {
	db := newMockDB()
	client := newFakeHTTPClient()
	return OutboxDeps{DB: db, Client: client, LocalPersonURI: localPersonURI}, db
}

func TestPostToNote_BasicAddressing(t *testing.T) {
	deps, db := newOutboxTestDeps()
	post := &domain.Post{
		Id: mustULID(), CreatedAt: time.Now(), Text: "hello world",
		Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/1",
	}
	if err := db.UpsertPostByURI(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	note, err := PostToNote(deps, post)
	if err != nil {
		t.Fatalf("PostToNote: %v", err)
	}
	if note.Content != "hello world" {
		t.Errorf("Content = %q", note.Content)
	}
	if note.AttributedTo != localPersonURI {
		t.Errorf("AttributedTo = %q", note.AttributedTo)
	}
	if len(note.To) != 1 || note.To[0] != ActivityStreamsPublic {
		t.Errorf("To = %v, want [Public]", note.To)
	}
}

func TestPostToNote_ReplyFoldsAuthorIntoCc(t *testing.T) {
	deps, db := newOutboxTestDeps()

	replyAuthor := &domain.User{Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(), Uri: "https://r.example/users/carol", Host: "r.example", Handle: "carol", Inbox: "https://r.example/users/carol/inbox", PublicKeyPem: "PEM"}
	db.addUser(replyAuthor)

	parent := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "parent", UserId: &replyAuthor.Id, Visibility: domain.VisibilityPublic, Uri: "https://r.example/notes/1"}
	if err := db.UpsertPostByURI(parent); err != nil {
		t.Fatalf("seed parent: %v", err)
	}

	reply := &domain.Post{
		Id: mustULID(), CreatedAt: time.Now(), ReplyId: &parent.Id, Text: "reply",
		Visibility: domain.VisibilityFollowers, Uri: localPersonURI + "/posts/2",
	}
	if err := db.UpsertPostByURI(reply); err != nil {
		t.Fatalf("seed reply: %v", err)
	}

	note, err := PostToNote(deps, reply)
	if err != nil {
		t.Fatalf("PostToNote: %v", err)
	}
	if note.InReplyTo != parent.Uri {
		t.Errorf("InReplyTo = %q, want %q", note.InReplyTo, parent.Uri)
	}
	if !contains(note.Cc, replyAuthor.Uri) {
		t.Errorf("expected reply author folded into cc, got %v", note.Cc)
	}
}

func TestPostToNote_QuoteOnlyWhenTextNonEmpty(t *testing.T) {
	deps, db := newOutboxTestDeps()

	target := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "quoted", Visibility: domain.VisibilityPublic, Uri: "https://r.example/notes/9"}
	if err := db.UpsertPostByURI(target); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	quote := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), RepostId: &target.Id, Text: "my take", Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/3"}
	note, err := PostToNote(deps, quote)
	if err != nil {
		t.Fatalf("PostToNote: %v", err)
	}
	if note.QuoteUrl != target.Uri {
		t.Errorf("QuoteUrl = %q, want %q", note.QuoteUrl, target.Uri)
	}

	announce := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), RepostId: &target.Id, Text: "", Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/4"}
	note2, err := PostToNote(deps, announce)
	if err != nil {
		t.Fatalf("PostToNote (announce): %v", err)
	}
	if note2.QuoteUrl != "" {
		t.Errorf("QuoteUrl = %q, want empty for a pure announce", note2.QuoteUrl)
	}
}

func TestPostToNote_AttachmentsMentionsHashtagsEmojis(t *testing.T) {
	deps, db := newOutboxTestDeps()
	post := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "hi #go", Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/5"}
	if err := db.UpsertPostByURI(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	db.CreateRemoteFile(&domain.RemoteFile{PostId: post.Id, Order: 0, Url: "https://d.example/f/0", MediaType: "image/png"})
	db.CreateRemoteFile(&domain.RemoteFile{PostId: post.Id, Order: 1, Url: "https://d.example/f/1", MediaType: "image/png"})
	db.CreateMention(&domain.Mention{PostId: post.Id, UserUri: "https://r.example/users/dan", DisplayName: "@dan"})
	db.CreateHashtag(&domain.Hashtag{PostId: post.Id, Name: "go"})
	db.CreatePostEmoji(&domain.PostEmoji{PostId: post.Id, Name: "blob", Uri: "https://d.example/emoji/blob", MediaType: "image/png", ImageUrl: "https://d.example/emoji/blob.png"})

	note, err := PostToNote(deps, post)
	if err != nil {
		t.Fatalf("PostToNote: %v", err)
	}
	if len(note.Attachment) != 2 || note.Attachment[0].Url != "https://d.example/f/0" || note.Attachment[1].Url != "https://d.example/f/1" {
		t.Errorf("attachment ordering not preserved: %+v", note.Attachment)
	}
	if !contains(note.To, ActivityStreamsPublic) {
		t.Errorf("expected public addressing, got to=%v", note.To)
	}
	if !contains(note.Cc, "https://r.example/users/dan") {
		t.Errorf("expected mention folded into cc, got %v", note.Cc)
	}

	var sawHashtag, sawEmoji bool
	for _, tag := range note.Tag {
		if tag.Type == "Hashtag" && tag.Name == "#go" {
			sawHashtag = true
		}
		if tag.Type == "Emoji" && tag.Name == ":blob:" && tag.Icon != nil && tag.Icon.Url == "https://d.example/emoji/blob.png" {
			sawEmoji = true
		}
	}
	if !sawHashtag {
		t.Errorf("expected #go hashtag tag, got %+v", note.Tag)
	}
	if !sawEmoji {
		t.Errorf("expected blob emoji tag, got %+v", note.Tag)
	}
}

func TestBuildCreate(t *testing.T) {
	deps, db := newOutboxTestDeps()
	post := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "hi", Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/1"}
	if err := db.UpsertPostByURI(post); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	create, err := BuildCreate(deps, post)
	if err != nil {
		t.Fatalf("BuildCreate: %v", err)
	}
	if create.Type != "Create" || create.Actor != localPersonURI {
		t.Errorf("create = %+v", create)
	}
	if create.Id != post.Uri+"/activity" {
		t.Errorf("Id = %q", create.Id)
	}
	if create.Object.Id != post.Uri {
		t.Errorf("Object.Id = %q", create.Object.Id)
	}
}

func TestBuildDelete(t *testing.T) {
	deps, _ := newOutboxTestDeps()
	del := BuildDelete(deps, "https://d.example/ap/posts/1")
	if del.Type != "Delete" || del.Object.Type != "Tombstone" || del.Object.Id != "https://d.example/ap/posts/1" {
		t.Errorf("BuildDelete = %+v", del)
	}
}

func TestBuildLike(t *testing.T) {
	deps, _ := newOutboxTestDeps()
	reaction := &domain.Reaction{Id: mustULID(), CreatedAt: time.Now(), Content: "❤", Uri: localPersonURI + "/likes/1"}
	like := BuildLike(deps, reaction, "https://r.example/notes/1")
	if like.Type != "Like" || like.Object != "https://r.example/notes/1" || like.Content != "❤" {
		t.Errorf("BuildLike = %+v", like)
	}
}

func TestBuildFollowAndAccept(t *testing.T) {
	deps, _ := newOutboxTestDeps()
	follow := &domain.Follow{Id: mustULID(), CreatedAt: time.Now(), ToId: mustULID()}
	followActivity := BuildFollow(deps, follow, "https://r.example/users/erin")
	if followActivity.Type != "Follow" || followActivity.Object != "https://r.example/users/erin" {
		t.Errorf("BuildFollow = %+v", followActivity)
	}

	accept := BuildAccept(deps, followActivity)
	if accept.Type != "Accept" || accept.Object.Id != followActivity.Id {
		t.Errorf("BuildAccept = %+v", accept)
	}
}

func TestBuildUpdatePerson(t *testing.T) {
	deps, _ := newOutboxTestDeps()
	person := BuildLocalPerson(PersonFields{Id: localPersonURI, Handle: "owner", Inbox: localPersonURI + "/inbox"})
	update := BuildUpdatePerson(deps, person)
	if update.Type != "Update" || update.Object.Id != localPersonURI {
		t.Errorf("BuildUpdatePerson = %+v", update)
	}
}

func TestEnqueueAndDeliverToFollowers(t *testing.T) {
	deps, db := newOutboxTestDeps()

	follower := &domain.User{Id: mustULID(), CreatedAt: time.Now(), LastFetchedAt: time.Now(), Uri: "https://r.example/users/frank", Host: "r.example", Handle: "frank", Inbox: "https://r.example/users/frank/inbox", PublicKeyPem: "PEM"}
	db.addUser(follower)
	db.addFollower(&domain.Follower{Id: mustULID(), CreatedAt: time.Now(), FromId: follower.Id, Uri: "https://r.example/acts/follow/1"})

	post := &domain.Post{Id: mustULID(), CreatedAt: time.Now(), Text: "hi", Visibility: domain.VisibilityPublic, Uri: localPersonURI + "/posts/1"}
	create, err := BuildCreate(deps, post)
	if err != nil {
		t.Fatalf("BuildCreate: %v", err)
	}

	if err := DeliverToFollowers(deps, create); err != nil {
		t.Fatalf("DeliverToFollowers: %v", err)
	}
	if len(db.deliveryQueue) != 1 {
		t.Fatalf("expected 1 queued delivery, got %d", len(db.deliveryQueue))
	}
	for _, item := range db.deliveryQueue {
		if item.InboxUrl != follower.Inbox {
			t.Errorf("InboxUrl = %q, want %q", item.InboxUrl, follower.Inbox)
		}
	}
}

func TestBackoff_DoublesAndCapsAtADay(t *testing.T) {
	if got := backoff(0); got != time.Minute {
		t.Errorf("backoff(0) = %v, want 1m", got)
	}
	if got := backoff(1); got != 2*time.Minute {
		t.Errorf("backoff(1) = %v, want 2m", got)
	}
	if got := backoff(20); got != 24*time.Hour {
		t.Errorf("backoff(20) = %v, want capped at 24h", got)
	}
}

func TestIsPermanent(t *testing.T) {
	if isPermanent(nil) {
		t.Error("isPermanent(nil) = true")
	}
	if !isPermanent(&permanentError{status: 410}) {
		t.Error("isPermanent(&permanentError{410}) = false")
	}
}

func TestDeliverQueued_PermanentErrorDropsItem(t *testing.T) {
	deps, db := newOutboxTestDeps()
	client := deps.Client.(*fakeHTTPClient)

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	db.CreateSetting(&domain.Setting{Id: idgen.Nil, UserPrivateKey: keys.Private})
	client.on("https://r.example/inbox", 410, "")

	item := domain.DeliveryQueueItem{Id: mustULID(), CreatedAt: time.Now(), InboxUrl: "https://r.example/inbox", Payload: `{}`, Attempts: 0, NextRetry: time.Now()}
	if err := db.EnqueueDelivery(&item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deliverQueued(deps, item)

	if _, ok := db.deliveryQueue[item.Id]; ok {
		t.Error("expected queue item to be dropped after a permanent 410 response")
	}
}

func TestDeliverQueued_TransientErrorRetriesWithBackoff(t *testing.T) {
	deps, db := newOutboxTestDeps()
	client := deps.Client.(*fakeHTTPClient)

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	db.CreateSetting(&domain.Setting{Id: idgen.Nil, UserPrivateKey: keys.Private})
	client.on("https://r.example/inbox", 503, "")

	item := domain.DeliveryQueueItem{Id: mustULID(), CreatedAt: time.Now(), InboxUrl: "https://r.example/inbox", Payload: `{}`, Attempts: 0, NextRetry: time.Now()}
	if err := db.EnqueueDelivery(&item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deliverQueued(deps, item)

	updated, ok := db.deliveryQueue[item.Id]
	if !ok {
		t.Fatal("expected queue item to survive a transient failure")
	}
	if updated.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", updated.Attempts)
	}
	if !updated.NextRetry.After(time.Now()) {
		t.Error("expected NextRetry to be pushed into the future")
	}
}
