package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"

	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/util"
)

const rssItemLimit = 50

// buildFeed assembles a read-only Atom/RSS view of the local actor's
// public outbox. Not part of the AP wire protocol (§6); a convenience
// surface for feed readers, grounded on the teacher's web/rss.go but
// rebuilt against Post/Setting instead of the teacher's Note model.
func buildFeed(conf *util.Config) (*feeds.Feed, error) {
	database := db.GetDB()

	handle := conf.UserHandle
	title := fmt.Sprintf("%s@%s", handle, conf.Domain)
	if err, setting := database.ReadSetting(idgen.Nil); err == nil && setting != nil {
		if setting.UserName != nil && *setting.UserName != "" {
			handle = *setting.UserName
		}
		if setting.InstanceName != nil && *setting.InstanceName != "" {
			title = *setting.InstanceName
		}
	}

	personURI := conf.LocalPersonURI()
	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: personURI},
		Description: fmt.Sprintf("Public posts from %s", handle),
		Author:      &feeds.Author{Name: handle},
	}

	err, posts := database.ReadRecentLocalPosts(rssItemLimit)
	if err != nil {
		return nil, err
	}

	var items []*feeds.Item
	for _, p := range *posts {
		post := p
		if post.Visibility != domain.VisibilityPublic {
			continue
		}
		if post.Kind() == domain.PostKindAnnounce {
			continue
		}
		if post.ReplyId != nil {
			continue
		}
		items = append(items, &feeds.Item{
			Id:      post.Uri,
			Title:   noteTitle(&post),
			Link:    &feeds.Link{Href: post.Uri},
			Content: post.Text,
			Author:  &feeds.Author{Name: handle},
			Created: post.CreatedAt,
		})
	}
	feed.Items = items

	return feed, nil
}

func noteTitle(p *domain.Post) string {
	if p.Title != nil && *p.Title != "" {
		return *p.Title
	}
	if len(p.Text) > 64 {
		return p.Text[:64] + "…"
	}
	return p.Text
}

// FeedHandler serves GET /feed.rss: an RSS 2.0 rendering of the local
// actor's public, non-reply outbox.
func FeedHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		feed, err := buildFeed(conf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build feed"})
			return
		}
		rss, err := feed.ToRss()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render feed"})
			return
		}
		c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
	}
}

// FeedAtomHandler serves GET /feed.atom: the same outbox as an Atom feed.
func FeedAtomHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		feed, err := buildFeed(conf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build feed"})
			return
		}
		atom, err := feed.ToAtom()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render feed"})
			return
		}
		c.Data(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
	}
}
