package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
)

const acceptActivityJSON = "application/activity+json"

// maxDereferenceDepth bounds recursive reply/repost/actor dereference so
// a hostile or cyclic chain of remote objects cannot loop forever. Not
// present in the distilled spec's prose; a necessary design constraint.
const maxDereferenceDepth = 8

// FetchDeps bundles what dereferencing needs: an HTTP client, so tests
// can inject a fake transport.
type FetchDeps struct {
	Client HTTPClient
}

func doGet(client HTTPClient, uri string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("Accept", acceptActivityJSON)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: %s returned status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return body, nil
}

// FetchPerson dereferences a remote actor document into a Person.
func FetchPerson(client HTTPClient, uri string) (*Person, error) {
	body, err := doGet(client, uri)
	if err != nil {
		return nil, err
	}
	var p Person
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("fetch: decode actor %s: %w", uri, err)
	}
	if p.Id == "" || p.Inbox == "" || p.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("fetch: actor %s missing id/inbox/publicKey", uri)
	}
	return &p, nil
}

// FetchNote dereferences a remote Note (used for reply/quote targets).
func FetchNote(client HTTPClient, uri string) (*Note, error) {
	body, err := doGet(client, uri)
	if err != nil {
		return nil, err
	}
	var n Note
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("fetch: decode note %s: %w", uri, err)
	}
	return &n, nil
}

// personToUser converts a freshly dereferenced Person into the User
// projection row, generating an id for first-seen actors.
func personToUser(p *Person, host string) (*domain.User, error) {
	var sharedInbox *string
	if p.Endpoints != nil && p.Endpoints.SharedInbox != "" {
		s := p.Endpoints.SharedInbox
		sharedInbox = &s
	}
	var name *string
	if p.Name != "" {
		n := p.Name
		name = &n
	}
	var description *string
	if p.Summary != "" {
		d := p.Summary
		description = &d
	}
	var avatarUrl *string
	if p.Icon != nil && p.Icon.Url != "" {
		a := p.Icon.Url
		avatarUrl = &a
	}
	var bannerUrl *string
	if p.Image != nil && p.Image.Url != "" {
		b := p.Image.Url
		bannerUrl = &b
	}

	return &domain.User{
		Id:                        idgen.New(),
		CreatedAt:                 time.Now(),
		LastFetchedAt:             time.Now(),
		Handle:                    p.PreferredUsername,
		Name:                      name,
		Host:                      host,
		Inbox:                     p.Inbox,
		SharedInbox:               sharedInbox,
		PublicKeyPem:              p.PublicKey.PublicKeyPem,
		Uri:                       p.Id,
		AvatarUrl:                 avatarUrl,
		BannerUrl:                 bannerUrl,
		ManuallyApprovesFollowers: p.ManuallyApprovesFollowers,
		IsBot:                     p.IsBot(),
		Description:               description,
	}, nil
}

// userTTL is how long a cached remote user is trusted before a fresh
// dereference is attempted on next use.
const userTTL = 24 * time.Hour

// ResolveUser returns the local cache row for actorURI, dereferencing and
// upserting it when absent or stale (last_fetched_at beyond userTTL).
func ResolveUser(deps Database, client HTTPClient, actorURI string) (*domain.User, error) {
	err, existing := deps.ReadUserByURI(actorURI)
	if err == nil && time.Since(existing.LastFetchedAt) < userTTL {
		return existing, nil
	}

	host, hostErr := hostOf(actorURI)
	if hostErr != nil {
		return nil, hostErr
	}

	person, fetchErr := FetchPerson(client, actorURI)
	if fetchErr != nil {
		if existing != nil {
			// stale cache beats a failed refresh
			return existing, nil
		}
		return nil, fetchErr
	}

	u, convErr := personToUser(person, host)
	if convErr != nil {
		return nil, convErr
	}
	if existing != nil {
		u.Id = existing.Id
	}

	if err := deps.UpsertUserByURI(u); err != nil {
		return nil, fmt.Errorf("fetch: upsert user: %w", err)
	}
	return u, nil
}

// WebFingerDiscover resolves acct:handle@host to the actor's AP uri.
func WebFingerDiscover(client HTTPClient, handle, host string) (string, error) {
	resource := url.QueryEscape(fmt.Sprintf("acct:%s@%s", handle, host))
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, resource)

	body, err := doGet(client, wfURL)
	if err != nil {
		return "", err
	}

	var doc struct {
		Subject string `json:"subject"`
		Links   []struct {
			Rel  string `json:"rel"`
			Type string `json:"type"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("webfinger: decode: %w", err)
	}
	for _, l := range doc.Links {
		if l.Rel == "self" && l.Type == acceptActivityJSON {
			return l.Href, nil
		}
	}
	return "", fmt.Errorf("webfinger: no self link for %s@%s", handle, host)
}
