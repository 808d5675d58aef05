package activitypub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/soloap/soloap/domain"
)

// hostOf extracts the host component of a uri for the inbox engine's
// per-kind domain-match checks (spec table in component design).
func hostOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("codec: invalid uri %q", uri)
	}
	return u.Host, nil
}

// SameHost reports whether a and b share the same host, used for every
// domain-match rule in the inbox state machine.
func SameHost(a, b string) bool {
	ha, errA := hostOf(a)
	hb, errB := hostOf(b)
	return errA == nil && errB == nil && ha == hb
}

// Addressing computes to/cc for an outbound Note/Announce given its
// visibility, the local Person uri, and the distinct mention uris.
func Addressing(vis domain.Visibility, localPersonUri string, mentionUris []string) (to, cc []string) {
	followers := localPersonUri + "/followers"
	switch vis {
	case domain.VisibilityPublic:
		to = []string{ActivityStreamsPublic}
		cc = append(append([]string{}, mentionUris...), followers)
	case domain.VisibilityHome:
		to = []string{followers}
		cc = append(append([]string{}, mentionUris...), ActivityStreamsPublic)
	case domain.VisibilityFollowers:
		to = []string{followers}
		cc = append([]string{}, mentionUris...)
	case domain.VisibilityDirectMessage:
		to = append([]string{}, mentionUris...)
		cc = []string{}
	}
	return to, cc
}

// InferVisibility recovers the visibility an inbound Note/Announce was
// sent with from its to/cc envelope (§4.1 inbound visibility inference).
func InferVisibility(to, cc []string, localFollowersUri string) domain.Visibility {
	if contains(to, ActivityStreamsPublic) {
		return domain.VisibilityPublic
	}
	if contains(cc, ActivityStreamsPublic) {
		return domain.VisibilityHome
	}
	for _, addr := range to {
		if strings.HasSuffix(addr, "/followers") {
			return domain.VisibilityFollowers
		}
	}
	return domain.VisibilityDirectMessage
}

// AddressingForPost computes to/cc for a Post the way Addressing does, but
// additionally folds the reply target's author uri into cc when the post
// is a reply and that author is not already addressed (supplemented from
// the reference implementation's reply-notification behavior, not present
// in the distilled addressing table).
func AddressingForPost(vis domain.Visibility, localPersonUri string, mentionUris []string, replyAuthorUri string) (to, cc []string) {
	to, cc = Addressing(vis, localPersonUri, mentionUris)
	if replyAuthorUri == "" {
		return to, cc
	}
	if contains(to, replyAuthorUri) || contains(cc, replyAuthorUri) {
		return to, cc
	}
	return to, append(cc, replyAuthorUri)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
