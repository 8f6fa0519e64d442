package controllers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	middleware "github.com/phillip/schoolfund-go/middleware"
	services "github.com/phillip/schoolfund-go/services"
	utils "github.com/phillip/schoolfund-go/utils"
)

// respondError writes a service error with its status, or a generic 500.
func respondError(c *gin.Context, err error) {
	var se *services.Error
	if errors.As(err, &se) {
		body := gin.H{"error": se.Message}
		if se.Details != nil {
			body["details"] = se.Details
		}
		c.AbortWithStatusJSON(se.Kind.HTTPStatus(), body)
		return
	}
	_ = c.Error(err)
	slog.ErrorContext(c.Request.Context(), "Request failed",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Any("err", err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func idParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return primitive.NilObjectID, false
	}
	return id, true
}

// callerID returns the authenticated subject as an ObjectID.
func callerID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.GetString(middleware.KeyUserID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func callerSchoolID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.GetString(middleware.KeySchoolID))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no school associated with this account"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// respondList serves a list with ETag and Last-Modified taken from its most
// recently updated element.
func respondList[T any](c *gin.Context, items []T, version func(T) (primitive.ObjectID, time.Time)) {
	if len(items) == 0 {
		c.JSON(http.StatusOK, items)
		return
	}

	latestID, latest := version(items[0])
	for _, it := range items[1:] {
		if id, ts := version(it); ts.After(latest) {
			latestID, latest = id, ts
		}
	}

	etag := utils.ListETag(latestID, latest, len(items))
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Header("Last-Modified", latest.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, items)
}

func respondOne(c *gin.Context, id primitive.ObjectID, updated time.Time, body any) {
	etag := utils.GenerateETag(id, updated)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Header("Last-Modified", updated.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, body)
}

// openUpload wraps a multipart file for the services layer. The caller
// closes the returned file.
func openUpload(fh *multipart.FileHeader) (*services.Upload, multipart.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &services.Upload{Filename: fh.Filename, Size: fh.Size, Content: f}, f, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
