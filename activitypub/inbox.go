package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/notify"
)

const maxInboxBodyBytes = 1 << 20

// InboxDeps bundles everything the inbox state machine needs, matching
// the teacher's InboxDeps/WithDeps split so tests can inject fakes.
type InboxDeps struct {
	DB             Database
	Client         HTTPClient
	Bus            *notify.Bus
	LocalPersonURI string
}

// HandleInboxWithDeps is the shared-inbox entrypoint: verify, domain
// match, dereference, upsert, notify (§4.2).
func HandleInboxWithDeps(deps InboxDeps, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	envelope, err := ParseEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actorUser, err := ResolveUser(deps.DB, deps.Client, envelope.Actor)
	if err != nil {
		log.Printf("inbox: could not resolve actor %s: %v", envelope.Actor, err)
		http.Error(w, "unknown actor", http.StatusBadRequest)
		return
	}

	if _, verifyErr := VerifyRequest(r, actorUser.PublicKeyPem); verifyErr != nil {
		log.Printf("inbox: signature verification failed for %s: %v", envelope.Actor, verifyErr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	switch envelope.Type {
	case "Create":
		err = handleCreate(deps, body)
	case "Announce":
		err = handleAnnounce(deps, body)
	case "Follow":
		err = handleFollow(deps, body)
	case "Accept":
		err = handleAccept(deps, body)
	case "Undo":
		err = handleUndo(deps, body)
	case "Delete":
		err = handleDelete(deps, body)
	case "Like":
		err = handleLike(deps, body)
	case "Flag":
		err = handleFlag(deps, body)
	case "Update":
		err = handleUpdate(deps, body)
	default:
		log.Printf("inbox: unrecognized activity type %q from %s", envelope.Type, envelope.Actor)
		http.Error(w, "not implemented", http.StatusNotImplemented)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*domainMismatchError); ok {
			status = http.StatusBadRequest
		}
		if err == errReactionNotFound {
			status = http.StatusNotFound
		}
		log.Printf("inbox: %s from %s failed: %v", envelope.Type, envelope.Actor, err)
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type domainMismatchError struct{ msg string }

func (e *domainMismatchError) Error() string { return e.msg }

func domainMismatch(format string, args ...interface{}) error {
	return &domainMismatchError{msg: fmt.Sprintf(format, args...)}
}

// --------------------------------------------------------------- Create --

func handleCreate(deps InboxDeps, body []byte) error {
	var create CreateActivity
	if err := json.Unmarshal(body, &create); err != nil {
		return fmt.Errorf("malformed Create: %w", err)
	}
	if !SameHost(create.Id, create.Actor) || !SameHost(create.Id, create.Object.Id) {
		return domainMismatch("Create: id/actor/object host mismatch")
	}

	author, err := ResolveUser(deps.DB, deps.Client, create.Object.AttributedTo)
	if err != nil {
		return fmt.Errorf("resolve author: %w", err)
	}

	post, err := noteToPost(deps, &create.Object, author.Id, 0)
	if err != nil {
		return err
	}

	if err := upsertPostWithTags(deps, post, &create.Object); err != nil {
		return err
	}

	deps.Bus.Publish(notify.Event{Type: notify.KindCreatePost, PostId: post.Id.String()})

	for _, tag := range create.Object.Tag {
		if tag.Type == "Mention" && tag.Href == deps.LocalPersonURI {
			deps.Bus.Publish(notify.Event{Type: notify.KindMentioned, PostId: post.Id.String()})
		}
	}
	if post.Kind() == domain.PostKindQuote {
		if err, target := deps.DB.ReadPostByID(*post.RepostId); err == nil && target.UserId == nil {
			deps.Bus.Publish(notify.Event{Type: notify.KindQuoted, PostId: post.Id.String()})
		}
	}
	return nil
}

// noteToPost maps a dereferenced Note to a Post row, resolving reply and
// quote targets recursively (bounded by maxDereferenceDepth).
func noteToPost(deps InboxDeps, note *Note, authorId uuid.UUID, depth int) (*domain.Post, error) {
	if depth > maxDereferenceDepth {
		return nil, fmt.Errorf("dereference depth exceeded for %s", note.Id)
	}

	var replyId, repostId *uuid.UUID
	if note.InReplyTo != "" {
		id, err := ensurePostByURI(deps, note.InReplyTo, depth+1)
		if err != nil {
			return nil, fmt.Errorf("resolve inReplyTo: %w", err)
		}
		replyId = id
	}
	if note.QuoteUrl != "" {
		id, err := ensurePostByURI(deps, note.QuoteUrl, depth+1)
		if err != nil {
			return nil, fmt.Errorf("resolve quoteUrl: %w", err)
		}
		repostId = id
	}

	vis := InferVisibility(note.To, note.Cc, deps.LocalPersonURI+"/followers")

	var title *string
	if note.Summary != "" {
		s := note.Summary
		title = &s
	}
	var sourceContent, sourceMediaType *string
	if note.Source != nil {
		sc := note.Source.Content
		sm := note.Source.MediaType
		sourceContent = &sc
		sourceMediaType = &sm
	}

	return &domain.Post{
		Id:              idgen.New(),
		CreatedAt:       time.Now(),
		ReplyId:         replyId,
		RepostId:        repostId,
		Text:            note.Content,
		Title:           title,
		UserId:          &authorId,
		Visibility:      vis,
		IsSensitive:     note.Sensitive,
		Uri:             note.Id,
		SourceContent:   sourceContent,
		SourceMediaType: sourceMediaType,
	}, nil
}

// ensurePostByURI returns the local id for a post uri, dereferencing and
// recursively ingesting it on first reference.
func ensurePostByURI(deps InboxDeps, uri string, depth int) (*uuid.UUID, error) {
	if err, existing := deps.DB.ReadPostByURI(uri); err == nil {
		id := existing.Id
		return &id, nil
	}

	note, err := FetchNote(deps.Client, uri)
	if err != nil {
		return nil, err
	}
	author, err := ResolveUser(deps.DB, deps.Client, note.AttributedTo)
	if err != nil {
		return nil, err
	}
	post, err := noteToPost(deps, note, author.Id, depth)
	if err != nil {
		return nil, err
	}
	if err := upsertPostWithTags(deps, post, note); err != nil {
		return nil, err
	}
	return &post.Id, nil
}

// upsertPostWithTags applies a post plus its attachments, mentions,
// hashtags, and emoji as a single unit: any failure rolls the whole
// batch back so a post is never left stored without its tags.
func upsertPostWithTags(deps InboxDeps, post *domain.Post, note *Note) error {
	return deps.DB.WithTx(func(tx Database) error {
		if err := tx.UpsertPostByURI(post); err != nil {
			return fmt.Errorf("upsert post: %w", err)
		}

		for i, att := range note.Attachment {
			if err := tx.CreateRemoteFile(&domain.RemoteFile{
				PostId: post.Id, Order: i, Url: att.Url, MediaType: att.MediaType, Name: optionalString(att.Name),
			}); err != nil {
				return fmt.Errorf("create attachment: %w", err)
			}
		}
		for _, tag := range note.Tag {
			switch tag.Type {
			case "Mention":
				if err := tx.CreateMention(&domain.Mention{PostId: post.Id, UserUri: tag.Href, DisplayName: tag.Name}); err != nil {
					return fmt.Errorf("create mention: %w", err)
				}
			case "Hashtag":
				if err := tx.CreateHashtag(&domain.Hashtag{PostId: post.Id, Name: strings.TrimPrefix(tag.Name, "#")}); err != nil {
					return fmt.Errorf("create hashtag: %w", err)
				}
			case "Emoji":
				imgUrl := ""
				if tag.Icon != nil {
					imgUrl = tag.Icon.Url
				}
				if err := tx.CreatePostEmoji(&domain.PostEmoji{PostId: post.Id, Name: tag.Name, Uri: tag.Id, MediaType: "image/png", ImageUrl: imgUrl}); err != nil {
					return fmt.Errorf("create emoji: %w", err)
				}
			}
		}
		return nil
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -------------------------------------------------------------- Announce --

func handleAnnounce(deps InboxDeps, body []byte) error {
	var announce AnnounceActivity
	if err := json.Unmarshal(body, &announce); err != nil {
		return fmt.Errorf("malformed Announce: %w", err)
	}
	if !SameHost(announce.Id, announce.Actor) {
		return domainMismatch("Announce: id/actor host mismatch")
	}

	actorUser, err := ResolveUser(deps.DB, deps.Client, announce.Actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}

	targetId, err := ensurePostByURI(deps, announce.Object, 0)
	if err != nil {
		return fmt.Errorf("resolve announced object: %w", err)
	}

	vis := InferVisibility(announce.To, announce.Cc, deps.LocalPersonURI+"/followers")
	post := &domain.Post{
		Id:         idgen.New(),
		CreatedAt:  time.Now(),
		RepostId:   targetId,
		Text:       "",
		UserId:     &actorUser.Id,
		Visibility: vis,
		Uri:        announce.Id,
	}
	if err := deps.DB.UpsertPostByURI(post); err != nil {
		return fmt.Errorf("upsert announce: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindCreatePost, PostId: post.Id.String()})
	return nil
}

// ---------------------------------------------------------------- Follow --

func handleFollow(deps InboxDeps, body []byte) error {
	var follow FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return fmt.Errorf("malformed Follow: %w", err)
	}
	if !SameHost(follow.Actor, follow.Id) {
		return domainMismatch("Follow: actor/id host mismatch")
	}

	actorUser, err := ResolveUser(deps.DB, deps.Client, follow.Actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}

	if err := deps.DB.UpsertFollowerByURI(&domain.Follower{
		Id: idgen.New(), CreatedAt: time.Now(), FromId: actorUser.Id, Uri: follow.Id,
	}); err != nil {
		return fmt.Errorf("upsert follower: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindCreateFollower, UserId: actorUser.Id.String()})

	go func() {
		if err := SendAccept(OutboxDeps{DB: deps.DB, Client: deps.Client, LocalPersonURI: deps.LocalPersonURI}, actorUser.Inbox, &follow); err != nil {
			log.Printf("inbox: failed to send Accept to %s: %v", actorUser.Inbox, err)
		}
	}()
	return nil
}

// ---------------------------------------------------------------- Accept --

func handleAccept(deps InboxDeps, body []byte) error {
	var accept AcceptActivity
	if err := json.Unmarshal(body, &accept); err != nil {
		return fmt.Errorf("malformed Accept: %w", err)
	}
	// The accepting actor must be the remote that was the object of our
	// original Follow, not an arbitrary third party.
	if !SameHost(accept.Actor, accept.Object.Object) {
		return domainMismatch("Accept: actor does not match followed object's host")
	}

	err, remoteUser := deps.DB.ReadUserByURI(accept.Object.Object)
	if err != nil {
		return fmt.Errorf("unknown follow target %s: %w", accept.Object.Object, err)
	}

	if err := deps.DB.AcceptFollowByToID(remoteUser.Id); err != nil {
		return fmt.Errorf("accept follow: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindAcceptFollow, UserId: remoteUser.Id.String()})
	return nil
}

// ------------------------------------------------------------------ Undo --

func handleUndo(deps InboxDeps, body []byte) error {
	undo, err := DecodeUndo(body)
	if err != nil {
		return err
	}

	switch undo.Kind {
	case UndoKindFollow:
		return handleUndoFollow(deps, undo)
	case UndoKindLike:
		return handleUndoLike(deps, undo)
	default:
		return fmt.Errorf("unsupported Undo kind %q", undo.Kind)
	}
}

// handleUndoFollow is idempotent: a missing follower is success, not an
// error, matching the codec's documented Undo asymmetry.
func handleUndoFollow(deps InboxDeps, undo *UndoActivity) error {
	inner, err := undo.DecodeFollow()
	if err != nil {
		return fmt.Errorf("malformed Undo(Follow): %w", err)
	}
	if !SameHost(undo.Actor, inner.Actor) {
		return domainMismatch("Undo(Follow): actor does not match inner follower's host")
	}

	var fromId string
	if ferr, existing := deps.DB.ReadFollowerByURI(inner.Id); ferr == nil {
		fromId = existing.FromId.String()
	}
	n, err := deps.DB.DeleteFollowerByURI(inner.Id)
	if err != nil {
		return fmt.Errorf("delete follower: %w", err)
	}
	if n > 0 {
		deps.Bus.Publish(notify.Event{Type: notify.KindDeleteFollower, UserId: fromId})
	}
	return nil
}

var errReactionNotFound = fmt.Errorf("reaction not found")

// handleUndoLike fails with NOT_FOUND when the reaction is absent,
// diverging deliberately from Undo(Follow)'s idempotent success.
func handleUndoLike(deps InboxDeps, undo *UndoActivity) error {
	inner, err := undo.DecodeLike()
	if err != nil {
		return fmt.Errorf("malformed Undo(Like): %w", err)
	}
	if !SameHost(undo.Actor, inner.Actor) {
		return domainMismatch("Undo(Like): actor does not match inner like's host")
	}

	var postId string
	if rerr, existing := deps.DB.ReadReactionByURI(inner.Id); rerr == nil {
		postId = existing.PostId.String()
	}
	n, err := deps.DB.DeleteReactionByURI(inner.Id)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	if n == 0 {
		return errReactionNotFound
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindDeleteReaction, PostId: postId})
	return nil
}

// ---------------------------------------------------------------- Delete --

func handleDelete(deps InboxDeps, body []byte) error {
	var del DeleteActivity
	if err := json.Unmarshal(body, &del); err != nil {
		return fmt.Errorf("malformed Delete: %w", err)
	}
	if !SameHost(del.Object.Id, del.Id) {
		return domainMismatch("Delete: object/activity host mismatch")
	}

	err, post := deps.DB.ReadPostByURI(del.Object.Id)
	if err != nil {
		// absence is tolerated: idempotent against replay
		return nil
	}
	if err := deps.DB.DeletePostByURI(del.Object.Id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindDeletePost, PostId: post.Id.String()})
	return nil
}

// ------------------------------------------------------------------ Like --

func handleLike(deps InboxDeps, body []byte) error {
	var like LikeActivity
	if err := json.Unmarshal(body, &like); err != nil {
		return fmt.Errorf("malformed Like: %w", err)
	}
	if !SameHost(like.Actor, like.Id) {
		return domainMismatch("Like: actor/id host mismatch")
	}

	actorUser, err := ResolveUser(deps.DB, deps.Client, like.Actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}

	err, post := deps.DB.ReadPostByURI(like.Object)
	if err != nil {
		return fmt.Errorf("liked post %s not found: %w", like.Object, err)
	}

	content := like.Content
	if content == "" {
		content = "❤️"
	}

	if err := deps.DB.UpsertReactionByURI(&domain.Reaction{
		Id: idgen.New(), CreatedAt: time.Now(), UserId: &actorUser.Id, PostId: post.Id, Content: content, Uri: like.Id,
	}); err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindCreateReaction, PostId: post.Id.String()})
	return nil
}

// ------------------------------------------------------------------ Flag --

func handleFlag(deps InboxDeps, body []byte) error {
	var flag FlagActivity
	if err := json.Unmarshal(body, &flag); err != nil {
		return fmt.Errorf("malformed Flag: %w", err)
	}
	if !SameHost(flag.Actor, flag.Id) {
		return domainMismatch("Flag: actor/id host mismatch")
	}

	actorUser, err := ResolveUser(deps.DB, deps.Client, flag.Actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}

	report := &domain.Report{Id: idgen.New(), CreatedAt: time.Now(), FromUserId: actorUser.Id, Content: flag.Content}
	if err := deps.DB.CreateReport(report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindCreateReport, ReportId: report.Id.String()})
	return nil
}

// ---------------------------------------------------------------- Update --

func handleUpdate(deps InboxDeps, body []byte) error {
	var update UpdateActivity
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("malformed Update: %w", err)
	}
	if !SameHost(update.Id, update.Object.Id) {
		return domainMismatch("Update: id/object host mismatch")
	}

	host, err := hostOf(update.Object.Id)
	if err != nil {
		return err
	}
	u, err := personToUser(&update.Object, host)
	if err != nil {
		return err
	}

	if err, existing := deps.DB.ReadUserByURI(update.Object.Id); err == nil {
		u.Id = existing.Id
	}
	if err := deps.DB.UpsertUserByURI(u); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	deps.Bus.Publish(notify.Event{Type: notify.KindUpdateUser, UserId: u.Id.String()})
	return nil
}
