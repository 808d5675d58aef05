package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/util"
)

// WellKnownNodeInfo is the discovery document at /.well-known/nodeinfo
// (§6), pointing at the versioned document below.
type WellKnownNodeInfo struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type NodeInfo20 struct {
	Version           string              `json:"version"`
	Software          NodeInfoSoftware    `json:"software"`
	Protocols         []string            `json:"protocols"`
	Usage             NodeInfoUsage       `json:"usage"`
	OpenRegistrations bool                `json:"openRegistrations"`
	Metadata          NodeInfoMetadata    `json:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoUsage struct {
	Users NodeInfoUsers `json:"users"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

type NodeInfoMetadata struct {
	NodeName        string             `json:"nodeName"`
	NodeDescription string             `json:"nodeDescription"`
	Maintainer      NodeInfoMaintainer `json:"maintainer"`
	ThemeColor      string             `json:"themeColor,omitempty"`
}

type NodeInfoMaintainer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// WellKnownNodeInfoHandler serves /.well-known/nodeinfo.
func WellKnownNodeInfoHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, WellKnownNodeInfo{
			Links: []NodeInfoLink{
				{Rel: "http://nodeinfo.diaspora.software/ns/schema/2.0", Href: "https://" + conf.Domain + "/nodeinfo/2.0"},
			},
		})
	}
}

// NodeInfoHandler serves GET /nodeinfo/2.0 (§6). The server is single-actor
// so registrations are always closed and the user count is always one.
func NodeInfoHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		derr, setting := db.GetDB().ReadSetting(idgen.Nil)
		if derr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read instance settings"})
			return
		}

		meta := NodeInfoMetadata{NodeName: conf.Domain}
		if setting.InstanceName != nil {
			meta.NodeName = *setting.InstanceName
		}
		if setting.Description != nil {
			meta.NodeDescription = *setting.Description
		}
		if setting.MaintainerName != nil {
			meta.Maintainer.Name = *setting.MaintainerName
		}
		if setting.MaintainerEmail != nil {
			meta.Maintainer.Email = *setting.MaintainerEmail
		}
		if setting.ThemeColor != nil {
			meta.ThemeColor = *setting.ThemeColor
		}

		c.JSON(http.StatusOK, NodeInfo20{
			Version:           "2.0",
			Software:          NodeInfoSoftware{Name: "soloap", Version: util.GetVersion()},
			Protocols:         []string{"activitypub"},
			Usage:             NodeInfoUsage{Users: NodeInfoUsers{Total: 1}},
			OpenRegistrations: false,
			Metadata:          meta,
		})
	}
}

// WebFingerResponse is the document served for a matching resource query.
type WebFingerResponse struct {
	Subject string             `json:"subject"`
	Links   []WebFingerLinkOut `json:"links"`
}

type WebFingerLinkOut struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// WebFingerHandler serves GET /.well-known/webfinger (§6): it answers
// only for the single configured handle, 404 otherwise.
func WebFingerHandler(conf *util.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		resource := c.Query("resource")
		username, ok := parseAcctUsername(resource)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed resource"})
			return
		}
		if valid, msg := util.IsValidWebFingerUsername(username); !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		wantAcct := "acct:" + conf.UserHandle + "@" + conf.Domain
		if !strings.EqualFold(resource, wantAcct) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such resource"})
			return
		}

		c.JSON(http.StatusOK, WebFingerResponse{
			Subject: wantAcct,
			Links: []WebFingerLinkOut{
				{Rel: "self", Type: activityJSON, Href: conf.LocalPersonURI()},
			},
		})
	}
}

// parseAcctUsername extracts the username portion of an "acct:user@host"
// resource query, reporting ok=false if the resource isn't shaped like one.
func parseAcctUsername(resource string) (string, bool) {
	rest, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return "", false
	}
	username, _, ok := strings.Cut(rest, "@")
	if !ok || username == "" {
		return "", false
	}
	return username, true
}
