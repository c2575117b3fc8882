package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/aits-api/internal/middleware"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext writes a 401 and reports false when no claims are set.
func actorFromContext(c *gin.Context) (policy.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return policy.Actor{}, false
	}
	return policy.ActorFromClaims(claims), true
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func pageParams(c *gin.Context) (int, int) {
	page, size := 1, 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil && v > 0 {
		size = v
	}
	return page, size
}

func issueFilterFromQuery(c *gin.Context) models.IssueFilter {
	var filter models.IssueFilter
	if v := models.IssueStatus(c.Query("status")); v.Valid() {
		filter.Status = &v
	}
	if v := models.IssueCategory(c.Query("category")); v.Valid() {
		filter.Category = &v
	}
	if v := models.IssuePriority(c.Query("priority")); v.Valid() {
		filter.Priority = &v
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}
