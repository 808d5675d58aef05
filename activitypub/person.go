package activitypub

// PersonFields carries the already-resolved URIs and profile data needed
// to build the local actor document. Computing URIs is the caller's job
// (web/actor.go has the configured domain); this just assembles the
// wire shape, which needs the unexported endpoints type.
type PersonFields struct {
	Id                        string
	Handle                    string
	Name                      string
	Summary                   string
	Inbox                     string
	Outbox                    string
	Followers                 string
	Following                 string
	SharedInbox               string
	PublicKeyPem              string
	IconURL                   string
	BannerURL                 string
	ManuallyApprovesFollowers bool
}

// BuildLocalPerson assembles the single local actor's Person document
// (§4.4, §6). It lives here rather than in web/ because Person's
// Endpoints field is built from the unexported endpoints type.
func BuildLocalPerson(f PersonFields) *Person {
	p := &Person{
		Context:            ActivityStreamsContext,
		Id:                 f.Id,
		Type:               "Person",
		PreferredUsername:  f.Handle,
		Name:               f.Name,
		Summary:            f.Summary,
		Inbox:              f.Inbox,
		Outbox:             f.Outbox,
		Followers:          f.Followers,
		Following:          f.Following,
		Endpoints:          &endpoints{SharedInbox: f.SharedInbox},
		PublicKey: PublicKey{
			Id:           f.Id + "#main-key",
			Owner:        f.Id,
			PublicKeyPem: f.PublicKeyPem,
		},
		ManuallyApprovesFollowers: f.ManuallyApprovesFollowers,
	}
	if f.IconURL != "" {
		p.Icon = &Image{Type: "Image", Url: f.IconURL}
	}
	if f.BannerURL != "" {
		p.Image = &Image{Type: "Image", Url: f.BannerURL}
	}
	return p
}
