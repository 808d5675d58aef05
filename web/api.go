package web

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soloap/soloap/activitypub"
	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/notify"
	"github.com/soloap/soloap/store"
	"github.com/soloap/soloap/util"
)

// apiHandlers groups the admin surface's shared dependencies (§4.7). This
// mirrors the teacher's WithDeps pattern applied to the web layer rather
// than the inbox/outbox engines.
type apiHandlers struct {
	conf       *util.Config
	outboxDeps activitypub.OutboxDeps
	bus        *notify.Bus
	backend    store.Backend
}

func newApiHandlers(conf *util.Config, outboxDeps activitypub.OutboxDeps, bus *notify.Bus, backend store.Backend) *apiHandlers {
	return &apiHandlers{conf: conf, outboxDeps: outboxDeps, bus: bus, backend: backend}
}

type mentionInput struct {
	UserUri     string `json:"user_uri" binding:"required"`
	DisplayName string `json:"display_name"`
}

type createPostInput struct {
	Text        string         `json:"text"`
	Title       *string        `json:"title"`
	ReplyId     *uuid.UUID     `json:"reply_id"`
	RepostId    *uuid.UUID     `json:"repost_id"`
	Visibility  string         `json:"visibility" binding:"required"`
	IsSensitive bool           `json:"is_sensitive"`
	Mentions    []mentionInput `json:"mentions"`
	Hashtags    []string       `json:"hashtags"`
	FileIds     []uuid.UUID    `json:"file_ids"`
}

// CreatePost handles POST /api/post: insert Post, attach files, build
// CreateNote, deliver to followers (§4.7).
func (h *apiHandlers) CreatePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createPostInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		vis := domain.Visibility(in.Visibility)
		switch vis {
		case domain.VisibilityPublic, domain.VisibilityHome, domain.VisibilityFollowers, domain.VisibilityDirectMessage:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
			return
		}

		database := db.GetDB()
		post := &domain.Post{
			Id:              idgen.New(),
			CreatedAt:       time.Now(),
			ReplyId:         in.ReplyId,
			RepostId:        in.RepostId,
			Text:            in.Text,
			Title:           in.Title,
			UserId:          nil,
			Visibility:      vis,
			IsSensitive:     in.IsSensitive,
			SourceContent:   &in.Text,
			SourceMediaType: strPtr("text/markdown"),
		}
		post.Uri = fmt.Sprintf("https://%s/ap/note/%s", h.conf.Domain, post.Id.String())

		if err := database.UpsertPostByURI(post); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create post"})
			return
		}

		for _, m := range in.Mentions {
			_ = database.CreateMention(&domain.Mention{PostId: post.Id, UserUri: m.UserUri, DisplayName: m.DisplayName})
		}
		for _, tag := range in.Hashtags {
			_ = database.CreateHashtag(&domain.Hashtag{PostId: post.Id, Name: tag})
		}
		for i, fileId := range in.FileIds {
			_ = database.AttachLocalFileToPost(fileId, post.Id, i)
		}

		create, err := activitypub.BuildCreate(h.outboxDeps, post)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not serialize post"})
			return
		}
		if err := activitypub.DeliverToFollowers(h.outboxDeps, create); err != nil {
			logDeliveryError("create", err)
		}

		h.bus.Publish(notify.Event{Type: notify.KindCreatePost, PostId: post.Id.String()})
		c.JSON(http.StatusOK, gin.H{"id": post.Id})
	}
}

// DeletePost handles DELETE /api/post/{id}.
func (h *apiHandlers) DeletePost() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		database := db.GetDB()
		derr, post := database.ReadPostByID(id)
		if derr != nil || post == nil || post.UserId != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		if err := database.DeletePostByID(id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete post"})
			return
		}

		del := activitypub.BuildDelete(h.outboxDeps, post.Uri)
		if err := activitypub.DeliverToFollowers(h.outboxDeps, del); err != nil {
			logDeliveryError("delete", err)
		}

		h.bus.Publish(notify.Event{Type: notify.KindDeletePost, PostId: id.String()})
		c.Status(http.StatusNoContent)
	}
}

type reactionInput struct {
	Content string `json:"content"`
}

// CreateReaction handles POST /api/post/{id}/reaction.
func (h *apiHandlers) CreateReaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		postId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var in reactionInput
		_ = c.ShouldBindJSON(&in)
		if in.Content == "" {
			in.Content = "❤️"
		}

		database := db.GetDB()
		derr, post := database.ReadPostByID(postId)
		if derr != nil || post == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}

		if rerr, existing := database.ReadLocalReactionByPostID(postId); rerr == nil && existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "already reacted"})
			return
		}

		reaction := &domain.Reaction{
			Id:        idgen.New(),
			CreatedAt: time.Now(),
			UserId:    nil,
			PostId:    postId,
			Content:   in.Content,
			Uri:       fmt.Sprintf("https://%s/ap/like/%s", h.conf.Domain, idgen.New().String()),
		}
		if err := database.CreateReaction(reaction); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create reaction"})
			return
		}

		if post.UserId != nil {
			if uerr, author := database.ReadUserByID(*post.UserId); uerr == nil && author != nil {
				like := activitypub.BuildLike(h.outboxDeps, reaction, post.Uri)
				if err := activitypub.Enqueue(h.outboxDeps, author.Inbox, like); err != nil {
					logDeliveryError("like", err)
				}
			}
		}

		h.bus.Publish(notify.Event{Type: notify.KindCreateReaction, PostId: postId.String()})
		c.JSON(http.StatusOK, gin.H{"id": reaction.Id})
	}
}

type followInput struct {
	ActorUri string `json:"actor_uri" binding:"required"`
}

// CreateFollow handles POST /api/follow: resolve the target actor, insert
// a pending Follow, build and deliver Follow (§4.7).
func (h *apiHandlers) CreateFollow() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in followInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		wrapper := activitypub.NewDBWrapper()
		user, err := activitypub.ResolveUser(wrapper, h.outboxDeps.Client, in.ActorUri)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not resolve actor"})
			return
		}

		follow := &domain.Follow{Id: idgen.New(), CreatedAt: time.Now(), ToId: user.Id, Accepted: false}
		if err := db.GetDB().CreateFollow(follow); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create follow"})
			return
		}

		activity := activitypub.BuildFollow(h.outboxDeps, follow, user.Uri)
		if err := activitypub.Enqueue(h.outboxDeps, user.Inbox, activity); err != nil {
			logDeliveryError("follow", err)
		}

		c.JSON(http.StatusOK, gin.H{"id": follow.Id})
	}
}

// DeleteFollow handles DELETE /api/follow/{id}. Outbound Undo(Follow) is a
// known gap carried over from the reference implementation (§4.7).
func (h *apiHandlers) DeleteFollow() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := db.GetDB().DeleteFollowByID(id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete follow"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type emojiInput struct {
	Name   string    `json:"name" binding:"required"`
	FileId uuid.UUID `json:"file_id" binding:"required"`
}

// CreateEmoji handles POST /api/emoji.
func (h *apiHandlers) CreateEmoji() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in emojiInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		database := db.GetDB()
		derr, file := database.ReadLocalFileByID(in.FileId)
		if derr != nil || file == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}

		if err := database.CreateEmoji(&domain.Emoji{Name: in.Name, CreatedAt: time.Now()}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create emoji"})
			return
		}
		if err := database.AttachEmojiFile(in.FileId, in.Name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not attach emoji file"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"name": in.Name})
	}
}

const maxUploadBytes = 10 << 20 // 10MB

// CreateFile handles POST /api/file: stores the raw request body as a
// blob and records a LocalFile row.
func (h *apiHandlers) CreateFile() gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaType := c.ContentType()
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}

		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
			return
		}
		if len(data) > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		key, kind, _, err := h.backend.Put(c.Request.Context(), data, mediaType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
			return
		}

		file := &domain.LocalFile{
			Id:              idgen.New(),
			CreatedAt:       time.Now(),
			ObjectStoreKey:  key,
			ObjectStoreType: kind,
			MediaType:       mediaType,
		}
		if err := db.GetDB().CreateLocalFile(file); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record file"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": file.Id, "url": publicURLFor(h.conf, file)})
	}
}

type reportInput struct {
	FromUserId uuid.UUID `json:"from_user_id" binding:"required"`
	Content    string    `json:"content" binding:"required"`
}

// CreateReport handles POST /api/report: a durable local record of an
// abuse flag, mirroring the inbound Flag handler's persistence shape.
func (h *apiHandlers) CreateReport() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in reportInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report := &domain.Report{Id: idgen.New(), CreatedAt: time.Now(), FromUserId: in.FromUserId, Content: in.Content}
		if err := db.GetDB().CreateReport(report); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create report"})
			return
		}
		h.bus.Publish(notify.Event{Type: notify.KindCreateReport, ReportId: report.Id.String()})
		c.JSON(http.StatusOK, gin.H{"id": report.Id})
	}
}

type settingInput struct {
	InstanceName    *string    `json:"instance_name"`
	UserName        *string    `json:"user_name"`
	Description     *string    `json:"description"`
	MaintainerName  *string    `json:"maintainer_name"`
	MaintainerEmail *string    `json:"maintainer_email"`
	ThemeColor      *string    `json:"theme_color"`
	AvatarFileId    *uuid.UUID `json:"avatar_file_id"`
	BannerFileId    *uuid.UUID `json:"banner_file_id"`
}

// UpdateSetting handles PUT /api/setting: persists profile changes and
// delivers Update(Person) to every follower (§4.7).
func (h *apiHandlers) UpdateSetting() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in settingInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		database := db.GetDB()
		derr, setting := database.ReadSetting(idgen.Nil)
		if derr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read settings"})
			return
		}

		if in.InstanceName != nil {
			setting.InstanceName = in.InstanceName
		}
		if in.UserName != nil {
			setting.UserName = in.UserName
		}
		if in.Description != nil {
			setting.Description = in.Description
		}
		if in.MaintainerName != nil {
			setting.MaintainerName = in.MaintainerName
		}
		if in.MaintainerEmail != nil {
			setting.MaintainerEmail = in.MaintainerEmail
		}
		if in.ThemeColor != nil {
			setting.ThemeColor = in.ThemeColor
		}
		if in.AvatarFileId != nil {
			setting.AvatarFileId = in.AvatarFileId
		}
		if in.BannerFileId != nil {
			setting.BannerFileId = in.BannerFileId
		}

		if err := database.UpdateSetting(setting); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update settings"})
			return
		}

		person, err := localPerson(h.conf)
		if err == nil {
			update := activitypub.BuildUpdatePerson(h.outboxDeps, person)
			if err := activitypub.DeliverToFollowers(h.outboxDeps, update); err != nil {
				logDeliveryError("update", err)
			}
		}

		c.Status(http.StatusNoContent)
	}
}

// NotificationStream handles GET /api/notification/stream: an SSE
// subscription to the notification bus (§4.5), closed cleanly on client
// disconnect or server shutdown.
func (h *apiHandlers) NotificationStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, cancel := h.bus.Subscribe()
		defer cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent("message", ev)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func logDeliveryError(kind string, err error) {
	fmt.Printf("web: %s delivery enqueue failed: %v\n", kind, err)
}
