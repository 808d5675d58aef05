package web

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/soloap/soloap/activitypub"
	"github.com/soloap/soloap/notify"
	"github.com/soloap/soloap/store"
	"github.com/soloap/soloap/util"
)

// NewRouter wires the full single-actor surface: federation endpoints
// (inbox, actor documents, WebFinger, NodeInfo) and the authenticated
// admin API, over the teacher's gin + gzip + rate-limit stack.
func NewRouter(conf *util.AppConfig, outboxDeps activitypub.OutboxDeps, bus *notify.Bus, backend store.Backend) *gin.Engine {
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()

	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	globalLimiter := NewRateLimiter(rate.Limit(20), 40)
	g.Use(RateLimitMiddleware(globalLimiter))

	if conf.Conf.StaticFilesDirectoryPath != "" {
		g.Static("/static", conf.Conf.StaticFilesDirectoryPath)
	}

	c := &conf.Conf
	deps := activitypub.NewDBWrapper()
	apiLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxInboxBody := MaxBytesMiddleware(1 << 20)

	g.GET("/healthz", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	g.GET("/ap/person", GetPersonHandler(c))
	g.GET("/ap/person/followers", GetFollowersHandler(c, deps))
	g.GET("/ap/person/following", GetFollowingHandler(c, deps))
	g.GET("/ap/note/:id", GetNoteHandler(deps, outboxDeps))

	g.POST("/inbox", RateLimitMiddleware(apiLimiter), maxInboxBody, func(ctx *gin.Context) {
		activitypub.HandleInboxWithDeps(activitypub.InboxDeps{
			DB:             deps,
			Client:         outboxDeps.Client,
			Bus:            bus,
			LocalPersonURI: c.LocalPersonURI(),
		}, ctx.Writer, ctx.Request)
	})

	g.GET("/feed.rss", FeedHandler(c))
	g.GET("/feed.atom", FeedAtomHandler(c))

	g.GET("/.well-known/webfinger", WebFingerHandler(c))
	g.GET("/.well-known/nodeinfo", WellKnownNodeInfoHandler(c))
	g.GET("/nodeinfo/2.0", NodeInfoHandler(c))

	h := newApiHandlers(c, outboxDeps, bus, backend)

	api := g.Group("/api")
	api.POST("/login", LoginHandler(c))
	{
		auth := api.Group("")
		auth.Use(AuthMiddleware(deps))

		auth.POST("/logout", LogoutHandler(deps))
		auth.POST("/post", h.CreatePost())
		auth.DELETE("/post/:id", h.DeletePost())
		auth.POST("/post/:id/reaction", h.CreateReaction())
		auth.POST("/follow", h.CreateFollow())
		auth.DELETE("/follow/:id", h.DeleteFollow())
		auth.POST("/emoji", h.CreateEmoji())
		auth.POST("/file", h.CreateFile())
		auth.POST("/report", h.CreateReport())
		auth.PUT("/setting", h.UpdateSetting())
		auth.GET("/notification/stream", h.NotificationStream())
	}

	return g
}
