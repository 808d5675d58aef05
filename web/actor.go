package web

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soloap/soloap/activitypub"
	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/util"
)

const activityJSON = "application/activity+json"

func publicURLFor(conf *util.Config, f *domain.LocalFile) string {
	if f == nil || f.ObjectStoreKey == "" {
		return ""
	}
	return conf.ObjectStorePublicURL + "/" + f.ObjectStoreKey
}

// localPerson assembles the singleton actor document from the Setting
// row, which is bootstrapped (keypair included) at app startup (§3, §6).
func localPerson(conf *util.Config) (*activitypub.Person, error) {
	database := db.GetDB()
	derr, setting := database.ReadSetting(idgen.Nil)
	if derr != nil {
		return nil, derr
	}

	personURI := conf.LocalPersonURI()
	sharedInbox := "https://" + conf.Domain + "/inbox"
	fields := activitypub.PersonFields{
		Id:                        personURI,
		Handle:                    conf.UserHandle,
		Inbox:                     sharedInbox,
		Outbox:                    personURI + "/outbox",
		Followers:                 personURI + "/followers",
		Following:                 personURI + "/following",
		SharedInbox:               sharedInbox,
		PublicKeyPem:              setting.UserPublicKey,
		ManuallyApprovesFollowers: false,
	}
	if setting.UserName != nil {
		fields.Name = *setting.UserName
	}
	if setting.Description != nil {
		fields.Summary = *setting.Description
	}
	if setting.AvatarFileId != nil {
		if err, f := database.ReadLocalFileByID(*setting.AvatarFileId); err == nil {
			fields.IconURL = publicURLFor(conf, f)
		}
	}
	if setting.BannerFileId != nil {
		if err, f := database.ReadLocalFileByID(*setting.BannerFileId); err == nil {
			fields.BannerURL = publicURLFor(conf, f)
		}
	}

	return activitypub.BuildLocalPerson(fields), nil
}

// GetPersonHandler serves the singleton actor document at /ap/person.
func GetPersonHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		person, err := localPerson(conf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load actor"})
			return
		}
		c.Data(http.StatusOK, activityJSON, mustMarshal(person))
	}
}

type orderedCollection struct {
	Context      interface{} `json:"@context"`
	Id           string      `json:"id"`
	Type         string      `json:"type"`
	TotalItems   int         `json:"totalItems"`
	OrderedItems []string    `json:"orderedItems"`
}

// GetFollowersHandler serves /ap/person/followers as a single-page
// OrderedCollection; the local actor's follower set is not expected to
// grow large enough to need real paging.
func GetFollowersHandler(conf *util.Config, deps activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, uris := deps.ReadFollowerActorURIs()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read followers"})
			return
		}
		coll := orderedCollection{
			Context:      activitypub.ActivityStreamsContext,
			Id:           conf.LocalPersonURI() + "/followers",
			Type:         "OrderedCollection",
			TotalItems:   len(*uris),
			OrderedItems: *uris,
		}
		c.Data(http.StatusOK, activityJSON, mustMarshal(coll))
	}
}

// GetFollowingHandler serves /ap/person/following, the set of remote
// actors the local actor follows.
func GetFollowingHandler(conf *util.Config, deps activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		err, uris := deps.ReadFollowURIs()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read following"})
			return
		}
		coll := orderedCollection{
			Context:      activitypub.ActivityStreamsContext,
			Id:           conf.LocalPersonURI() + "/following",
			Type:         "OrderedCollection",
			TotalItems:   len(*uris),
			OrderedItems: *uris,
		}
		c.Data(http.StatusOK, activityJSON, mustMarshal(coll))
	}
}

// GetNoteHandler serves a locally originated Note at /ap/note/{id}.
func GetNoteHandler(deps activitypub.Database, outboxDeps activitypub.OutboxDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		derr, post := deps.ReadPostByID(id)
		if derr != nil || post == nil || post.UserId != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		note, err := activitypub.PostToNote(outboxDeps, post)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not serialize note"})
			return
		}
		c.Data(http.StatusOK, activityJSON, mustMarshal(note))
	}
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
