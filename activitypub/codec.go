// Package activitypub implements the AP object codec and the inbox/outbox
// state machines. Grounded on the teacher's activitypub/inbox.go and
// outbox.go (InboxDeps/OutboxDeps split, (error, *T) return idiom,
// log.Printf-style diagnostics) and on chamsae's ap.rs for the exact
// activity/object shapes this codec must round-trip.
package activitypub

import (
	"encoding/json"
	"fmt"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
const ActivityStreamsPublic = "https://www.w3.org/ns/activitystreams#Public"

// Envelope is the minimal first-pass decode used to dispatch on Type
// before committing to a concrete activity shape.
type Envelope struct {
	Id     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string           `json:"actor"`
	Object json.RawMessage `json:"object"`
}

func ParseEnvelope(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("codec: malformed activity envelope: %w", err)
	}
	if e.Type == "" || e.Id == "" || e.Actor == "" {
		return nil, fmt.Errorf("codec: activity missing id/type/actor")
	}
	return &e, nil
}

// PublicKey is the Person object's key block.
type PublicKey struct {
	Id           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Person is the actor document served at the local Person URL and the
// shape remote actors are dereferenced into.
type Person struct {
	Context                   interface{} `json:"@context,omitempty"`
	Id                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name,omitempty"`
	Summary                   string      `json:"summary,omitempty"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox,omitempty"`
	Followers                 string      `json:"followers,omitempty"`
	Following                 string      `json:"following,omitempty"`
	Endpoints                 *endpoints  `json:"endpoints,omitempty"`
	PublicKey                 PublicKey   `json:"publicKey"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Icon                      *Image      `json:"icon,omitempty"`
	Image                     *Image      `json:"image,omitempty"`
}

func (p *Person) IsBot() bool { return p.Type == "Service" || p.Type == "Application" }

type Image struct {
	Type string `json:"type"`
	Url  string `json:"url"`
}

// Source carries the original markup of a Note's content.
type Source struct {
	Content   string `json:"content"`
	MediaType string `json:"mediaType"`
}

// Attachment is a Document tag on a Note (RemoteFile/LocalFile projection).
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	Url       string `json:"url"`
	Name      string `json:"name,omitempty"`
}

// Tag is the discriminated union of Mention/Hashtag/Emoji; only the
// fields relevant to its Type are populated.
type Tag struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
	Id   string `json:"id,omitempty"`
	Icon *Image `json:"icon,omitempty"`
}

// Note is a Create(Note)'s object, or the decode target for Announce's
// referenced object when it must be dereferenced.
type Note struct {
	Context      interface{}  `json:"@context,omitempty"`
	Id           string       `json:"id"`
	Type         string       `json:"type"`
	AttributedTo string       `json:"attributedTo"`
	Published    string       `json:"published"`
	Content      string       `json:"content"`
	Summary      string       `json:"summary,omitempty"`
	Source       *Source      `json:"source,omitempty"`
	InReplyTo    string       `json:"inReplyTo,omitempty"`
	QuoteUrl     string       `json:"quoteUrl,omitempty"`
	Sensitive    bool         `json:"sensitive,omitempty"`
	To           []string     `json:"to,omitempty"`
	Cc           []string     `json:"cc,omitempty"`
	Attachment   []Attachment `json:"attachment,omitempty"`
	Tag          []Tag        `json:"tag,omitempty"`
}

// Tombstone is the object of a Delete activity.
type Tombstone struct {
	Id   string `json:"id"`
	Type string `json:"type"`
}

// CreateActivity wraps a Note.
type CreateActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	To      []string    `json:"to,omitempty"`
	Cc      []string    `json:"cc,omitempty"`
	Object  Note        `json:"object"`
}

// AnnounceActivity's Object is the uri of the reposted object; the full
// Note is not inlined, matching chamsae's thin-announce shape.
type AnnounceActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	To      []string    `json:"to,omitempty"`
	Cc      []string    `json:"cc,omitempty"`
	Object  string      `json:"object"`
}

// FollowActivity's Object is always the actor uri being followed.
type FollowActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  string      `json:"object"`
}

// AcceptActivity embeds the inner Follow activity as its object.
type AcceptActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  FollowActivity `json:"object"`
}

// LikeActivity's Object is the liked Post's uri.
type LikeActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Content string      `json:"content,omitempty"`
	Tag     []Tag       `json:"tag,omitempty"`
	Object  string      `json:"object"`
}

// FlagActivity reports an object for review.
type FlagActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Content string      `json:"content"`
	Object  string      `json:"object"`
}

// UpdateActivity(Person) refreshes a cached remote actor.
type UpdateActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  Person      `json:"object"`
}

// DeleteActivity removes a Post by uri.
type DeleteActivity struct {
	Context interface{} `json:"@context,omitempty"`
	Id      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  Tombstone   `json:"object"`
}

// UndoKind tags which activity an Undo unwraps, since Go has no generics
// over wire-decoded JSON the way the Rust source's Undo<T> does.
type UndoKind string

const (
	UndoKindFollow UndoKind = "Follow"
	UndoKindLike   UndoKind = "Like"
)

// UndoActivity decodes just enough of the inner object to dispatch; the
// caller re-decodes Object into a FollowActivity or a LikeActivity as
// needed once Kind is known.
type UndoActivity struct {
	Id     string
	Type   string
	Actor  string
	Kind   UndoKind
	Object json.RawMessage
}

func DecodeUndo(body json.RawMessage) (*UndoActivity, error) {
	var outer struct {
		Id     string          `json:"id"`
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("codec: malformed Undo: %w", err)
	}

	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(outer.Object, &inner); err != nil {
		return nil, fmt.Errorf("codec: malformed Undo object: %w", err)
	}

	var kind UndoKind
	switch inner.Type {
	case "Follow":
		kind = UndoKindFollow
	case "Like":
		kind = UndoKindLike
	default:
		return nil, fmt.Errorf("codec: Undo of unsupported type %q", inner.Type)
	}

	return &UndoActivity{Id: outer.Id, Type: outer.Type, Actor: outer.Actor, Kind: kind, Object: outer.Object}, nil
}

func (u *UndoActivity) DecodeFollow() (*FollowActivity, error) {
	var f FollowActivity
	if err := json.Unmarshal(u.Object, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (u *UndoActivity) DecodeLike() (*LikeActivity, error) {
	var l LikeActivity
	if err := json.Unmarshal(u.Object, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
