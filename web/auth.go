package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/soloap/soloap/activitypub"
	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/util"
)

const accessKeyCookie = "ACCESS_KEY"

// AuthMiddleware gates the admin API behind a cookie-borne ACCESS_KEY ULID
// matched against AccessKey rows (§4.7). The teacher's own auth surface
// was SSH public-key based and has no HTTP analogue, so this is new code
// grounded on the AccessKey entity the spec already names.
func AuthMiddleware(deps activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(accessKeyCookie)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access key"})
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}

		derr, key := deps.ReadAccessKeyByID(id)
		if derr != nil || key == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}

		_ = deps.TouchAccessKey(id, time.Now())
		c.Next()
	}
}

// LoginHandler bootstraps a session: the operator's plaintext password is
// compared against USER_PASSWORD_BCRYPT, and on success a fresh AccessKey
// row is minted and set as the session cookie.
func LoginHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		if conf.UserPasswordBcrypt == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no password configured"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(conf.UserPasswordBcrypt), []byte(body.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}

		key := &domain.AccessKey{Id: idgen.New(), Name: "session", CreatedAt: time.Now()}
		if err := db.GetDB().CreateAccessKey(key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
			return
		}

		c.SetCookie(accessKeyCookie, key.Id.String(), 60*60*24*30, "/", "", true, true)
		c.JSON(http.StatusOK, gin.H{"id": key.Id})
	}
}

// LogoutHandler revokes the current AccessKey and clears the cookie.
func LogoutHandler(deps activitypub.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(accessKeyCookie)
		if err == nil && raw != "" {
			if id, perr := uuid.Parse(raw); perr == nil {
				_ = deps.DeleteAccessKey(id)
			}
		}
		c.SetCookie(accessKeyCookie, "", -1, "/", "", true, true)
		c.Status(http.StatusNoContent)
	}
}
