package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/notify"
)

// OutboxDeps is the outbox engine's dependency set, mirroring InboxDeps
// (teacher's InboxDeps/OutboxDeps split, generalized to the full entity
// set and single-actor URL scheme, §4.3/§4.4).
type OutboxDeps struct {
	DB             Database
	Client         HTTPClient
	Bus            *notify.Bus
	LocalPersonURI string
}

func (d OutboxDeps) localKeyId() string {
	return d.LocalPersonURI + "#main-key"
}

// signingKey loads the local actor's private key from the Setting
// singleton row (idgen.Nil), lazily generated at bootstrap.
func (d OutboxDeps) signingKey() (string, error) {
	err, setting := d.DB.ReadSetting(idgen.Nil)
	if err != nil {
		return "", fmt.Errorf("outbox: read setting: %w", err)
	}
	if setting.UserPrivateKey == "" {
		return "", fmt.Errorf("outbox: no private key on setting row")
	}
	return setting.UserPrivateKey, nil
}

// PostToNote serializes a Post into the wire Note shape (§4.1/§4.4), the
// outbound counterpart to inbox.go's noteToPost. Reply/quote targets,
// mentions/hashtags/emojis and RemoteFile attachments are read back from
// storage since Post itself stores only foreign keys. LocalFile rows
// attached to the post are not serialized as attachments.
func PostToNote(deps OutboxDeps, post *domain.Post) (*Note, error) {
	note := &Note{
		Context: ActivityStreamsContext,
		Id:      post.Uri,
		Type:    "Note",
		Content: post.Text,
	}
	note.AttributedTo = deps.LocalPersonURI
	note.Published = post.CreatedAt.UTC().Format(time.RFC3339)
	note.Sensitive = post.IsSensitive

	if post.Title != nil {
		note.Summary = *post.Title
	}
	if post.SourceContent != nil {
		src := &Source{Content: *post.SourceContent}
		if post.SourceMediaType != nil {
			src.MediaType = *post.SourceMediaType
		}
		note.Source = src
	}

	var replyAuthorUri string
	if post.ReplyId != nil {
		err, target := deps.DB.ReadPostByID(*post.ReplyId)
		if err != nil {
			return nil, fmt.Errorf("outbox: read reply target %s: %w", post.ReplyId, err)
		}
		note.InReplyTo = target.Uri
		if target.UserId != nil {
			if err, author := deps.DB.ReadUserByID(*target.UserId); err == nil {
				replyAuthorUri = author.Uri
			}
		}
	}
	if post.RepostId != nil && post.Text != "" {
		err, target := deps.DB.ReadPostByID(*post.RepostId)
		if err != nil {
			return nil, fmt.Errorf("outbox: read quote target %s: %w", post.RepostId, err)
		}
		note.QuoteUrl = target.Uri
	}

	err, mentions := deps.DB.ReadMentionsByPostID(post.Id)
	if err != nil {
		return nil, fmt.Errorf("outbox: read mentions: %w", err)
	}
	mentionUris := make([]string, 0, len(*mentions))
	for _, m := range *mentions {
		mentionUris = append(mentionUris, m.UserUri)
		note.Tag = append(note.Tag, Tag{Type: "Mention", Href: m.UserUri, Name: m.DisplayName})
	}

	err, hashtags := deps.DB.ReadHashtagsByPostID(post.Id)
	if err != nil {
		return nil, fmt.Errorf("outbox: read hashtags: %w", err)
	}
	for _, h := range *hashtags {
		note.Tag = append(note.Tag, Tag{Type: "Hashtag", Name: "#" + h.Name})
	}

	err, emojis := deps.DB.ReadPostEmojisByPostID(post.Id)
	if err != nil {
		return nil, fmt.Errorf("outbox: read post emojis: %w", err)
	}
	for _, e := range *emojis {
		note.Tag = append(note.Tag, Tag{
			Type: "Emoji",
			Id:   e.Uri,
			Name: ":" + e.Name + ":",
			Icon: &Image{Type: "Image", Url: e.ImageUrl},
		})
	}

	err, remoteFiles := deps.DB.ReadRemoteFilesByPostID(post.Id)
	if err != nil {
		return nil, fmt.Errorf("outbox: read remote files: %w", err)
	}
	for _, f := range *remoteFiles {
		note.Attachment = append(note.Attachment, Attachment{Type: "Document", MediaType: f.MediaType, Url: f.Url, Name: f.Name})
	}

	note.To, note.Cc = AddressingForPost(post.Visibility, deps.LocalPersonURI, mentionUris, replyAuthorUri)

	return note, nil
}

// BuildCreate wraps a Post's Note in a Create activity (§4.1, §4.3 step 2).
func BuildCreate(deps OutboxDeps, post *domain.Post) (*CreateActivity, error) {
	note, err := PostToNote(deps, post)
	if err != nil {
		return nil, err
	}
	return &CreateActivity{
		Context: ActivityStreamsContext,
		Id:      post.Uri + "/activity",
		Type:    "Create",
		Actor:   deps.LocalPersonURI,
		To:      note.To,
		Cc:      note.Cc,
		Object:  *note,
	}, nil
}

// BuildDelete wraps a deleted Post's uri in a Delete(Tombstone) activity.
func BuildDelete(deps OutboxDeps, postUri string) *DeleteActivity {
	return &DeleteActivity{
		Context: ActivityStreamsContext,
		Id:      postUri + "/undo",
		Type:    "Delete",
		Actor:   deps.LocalPersonURI,
		Object:  Tombstone{Id: postUri, Type: "Tombstone"},
	}
}

// BuildLike wraps a Reaction in a Like activity addressed to the reacted
// post's author.
func BuildLike(deps OutboxDeps, reaction *domain.Reaction, postUri string) *LikeActivity {
	return &LikeActivity{
		Context: ActivityStreamsContext,
		Id:      reaction.Uri,
		Type:    "Like",
		Actor:   deps.LocalPersonURI,
		Content: reaction.Content,
		Object:  postUri,
	}
}

// BuildFollow starts a locally initiated follow of a remote actor.
func BuildFollow(deps OutboxDeps, follow *domain.Follow, targetUri string) *FollowActivity {
	return &FollowActivity{
		Context: ActivityStreamsContext,
		Id:      deps.LocalPersonURI + "/follow/" + follow.Id.String(),
		Type:    "Follow",
		Actor:   deps.LocalPersonURI,
		Object:  targetUri,
	}
}

// BuildAccept wraps a remote Follow in an Accept reply (§4.2's Follow row).
func BuildAccept(deps OutboxDeps, follow *FollowActivity) *AcceptActivity {
	return &AcceptActivity{
		Context: ActivityStreamsContext,
		Id:      deps.LocalPersonURI + "/accept/" + idgen.New().String(),
		Type:    "Accept",
		Actor:   deps.LocalPersonURI,
		Object:  *follow,
	}
}

// BuildUpdatePerson wraps the local actor document in an Update activity,
// sent after a Setting change (§4.7).
func BuildUpdatePerson(deps OutboxDeps, person *Person) *UpdateActivity {
	return &UpdateActivity{
		Context: ActivityStreamsContext,
		Id:      deps.LocalPersonURI + "/update/" + idgen.New().String(),
		Type:    "Update",
		Actor:   deps.LocalPersonURI,
		Object:  *person,
	}
}

// Enqueue durably records a pending delivery; StartDeliveryWorker drains
// the queue asynchronously so the originating HTTP request never waits on
// a remote server (§4.3, "Delivery runs asynchronously").
func Enqueue(deps OutboxDeps, targetInbox string, activity any) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("outbox: marshal activity: %w", err)
	}
	return deps.DB.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:        idgen.New(),
		CreatedAt: time.Now(),
		InboxUrl:  targetInbox,
		Payload:   string(body),
		Attempts:  0,
		NextRetry: time.Now(),
	})
}

// DeliverToFollowers enqueues a delivery to every distinct follower inbox,
// preferring shared_inbox over inbox per follower (§4.3 step 3).
func DeliverToFollowers(deps OutboxDeps, activity any) error {
	err, inboxes := deps.DB.ReadFollowerInboxes()
	if err != nil {
		return fmt.Errorf("outbox: read follower inboxes: %w", err)
	}
	for _, inbox := range *inboxes {
		if err := Enqueue(deps, inbox, activity); err != nil {
			return err
		}
	}
	return nil
}

// SendAccept sends an Accept reply for an inbound Follow. It attempts
// immediate delivery (so the common case completes in one round trip
// under the goroutine inbox.go spawns) and falls back to the durable
// queue on failure, rather than dropping the reply.
func SendAccept(deps OutboxDeps, targetInbox string, follow *FollowActivity) error {
	accept := BuildAccept(deps, follow)
	body, err := json.Marshal(accept)
	if err != nil {
		return fmt.Errorf("outbox: marshal accept: %w", err)
	}
	if err := deliverNow(deps, targetInbox, body); err != nil {
		log.Printf("outbox: immediate accept delivery to %s failed, queuing: %v", targetInbox, err)
		return deps.DB.EnqueueDelivery(&domain.DeliveryQueueItem{
			Id:        idgen.New(),
			CreatedAt: time.Now(),
			InboxUrl:  targetInbox,
			Payload:   string(body),
			Attempts:  0,
			NextRetry: time.Now(),
		})
	}
	return nil
}

// deliverNow signs and POSTs body to targetInbox, returning a permanentError
// when the response indicates delivery should not be retried.
func deliverNow(deps OutboxDeps, targetInbox string, body []byte) error {
	privPEM, err := deps.signingKey()
	if err != nil {
		return err
	}
	privateKey, err := ParsePrivateKey(privPEM)
	if err != nil {
		return fmt.Errorf("outbox: parse private key: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, targetInbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("outbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", acceptActivityJSON)
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", digestBody(body))

	if err := SignRequest(req, privateKey, deps.localKeyId()); err != nil {
		return fmt.Errorf("outbox: sign request: %w", err)
	}

	resp, err := deps.Client.Do(req)
	if err != nil {
		return fmt.Errorf("outbox: post to %s: %w", targetInbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout {
		return &permanentError{status: resp.StatusCode}
	}
	return fmt.Errorf("outbox: delivery to %s failed with status %d", targetInbox, resp.StatusCode)
}

// permanentError marks a delivery that must not be retried (§4.3 step 5:
// "a permanent 4xx (non-408) is terminal").
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure, status %d", e.status)
}

func isPermanent(err error) bool {
	_, ok := err.(*permanentError)
	return ok
}

// maxDeliveryAttempts bounds retry growth; beyond this the queue entry is
// dropped rather than retried forever against a dead remote.
const maxDeliveryAttempts = 16

// backoff returns the delay before the next attempt, doubling per attempt
// up to a day, matching the exponential backoff the spec calls for without
// prescribing exact constants.
func backoff(attempts int) time.Duration {
	d := time.Minute * time.Duration(1<<uint(attempts))
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	return d
}

// StartDeliveryWorker polls the delivery queue and drains it with a
// bounded worker pool, stopping cleanly when ctx is cancelled (§4.3, §5
// cooperative cancellation).
func StartDeliveryWorker(ctx context.Context, deps OutboxDeps, concurrency int, pollInterval time.Duration) {
	if concurrency <= 0 {
		concurrency = 4
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := drainOnce(ctx, deps, concurrency); err != nil {
				log.Printf("outbox: delivery sweep error: %v", err)
			}
		}
	}
}

func drainOnce(ctx context.Context, deps OutboxDeps, concurrency int) error {
	err, due := deps.DB.ReadDueDeliveries(time.Now(), 64)
	if err != nil {
		return fmt.Errorf("outbox: read due deliveries: %w", err)
	}
	if len(*due) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, item := range *due {
		item := item
		g.Go(func() error {
			deliverQueued(deps, item)
			return nil
		})
	}
	return g.Wait()
}

func deliverQueued(deps OutboxDeps, item domain.DeliveryQueueItem) {
	err := deliverNow(deps, item.InboxUrl, []byte(item.Payload))
	if err == nil {
		if derr := deps.DB.DeleteDelivery(item.Id); derr != nil {
			log.Printf("outbox: delete delivered queue item %s: %v", item.Id, derr)
		}
		return
	}

	if isPermanent(err) || item.Attempts+1 >= maxDeliveryAttempts {
		log.Printf("outbox: dropping delivery %s to %s after %d attempts: %v", item.Id, item.InboxUrl, item.Attempts+1, err)
		if derr := deps.DB.DeleteDelivery(item.Id); derr != nil {
			log.Printf("outbox: delete dead queue item %s: %v", item.Id, derr)
		}
		return
	}

	nextAttempts := item.Attempts + 1
	nextRetry := time.Now().Add(backoff(nextAttempts))
	lastError := err.Error()
	if uerr := deps.DB.UpdateDeliveryAttempt(item.Id, nextAttempts, nextRetry, lastError); uerr != nil {
		log.Printf("outbox: update delivery attempt %s: %v", item.Id, uerr)
	}
}
