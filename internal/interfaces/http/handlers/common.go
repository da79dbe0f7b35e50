// Package handlers implements the Gin handlers of the EpiExtract HTTP API.
package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/intelligence/preannotated"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// requestIDKey is the gin context key the request id middleware writes.
const requestIDKey = "request_id"

// RequestID returns the id assigned to the current request, if any.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SetRequestID stores id on the gin context.
func SetRequestID(c *gin.Context, id string) {
	c.Set(requestIDKey, id)
}

// parsePagination reads page and page_size from the query string. Missing
// or malformed values fall back to the defaults; bounds are checked by the
// service.
func parsePagination(c *gin.Context) common.Pagination {
	var p common.Pagination
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Page = n
		}
	}
	if v := c.Query("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.PageSize = n
		}
	}
	return p.Normalize()
}

// bodyFormat picks the document format from the Content-Type header and
// sniffs the body when the header says nothing useful.
func bodyFormat(c *gin.Context, body []byte) preannotated.Format {
	ct := strings.ToLower(c.ContentType())
	switch {
	case strings.Contains(ct, "yaml"):
		return preannotated.FormatYAML
	case strings.Contains(ct, "json"):
		return preannotated.FormatJSON
	}
	return preannotated.SniffFormat(body)
}

// readBody reads the request body, mapping an oversized body to 413.
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New(errors.ErrCodeDocumentTooLarge, "request body too large").
				WithDetail(strconv.FormatInt(maxErr.Limit, 10) + " bytes max")
		}
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read request body")
	}
	if len(body) == 0 {
		return nil, errors.New(errors.ErrCodeBadRequest, "request body is empty")
	}
	return body, nil
}

// respond writes data wrapped in the standard envelope.
func respond[T any](c *gin.Context, status int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = RequestID(c)
	c.JSON(status, resp)
}

func respondPage[T any](c *gin.Context, data T, page common.Pagination) {
	resp := common.NewPaginatedResponse(data, page)
	resp.RequestID = RequestID(c)
	c.JSON(http.StatusOK, resp)
}

// respondError maps err to its HTTP status and writes the error envelope.
// Server-side failures are masked.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)
	message := err.Error()

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal server error"
		if status != http.StatusInternalServerError {
			message = http.StatusText(status)
		}
	}

	resp := common.NewErrorResponse(string(code), message)
	resp.RequestID = RequestID(c)
	if appErr != nil && appErr.Detail != "" && status < http.StatusInternalServerError {
		resp.Error.Details = map[string]interface{}{"detail": appErr.Detail}
	}
	c.AbortWithStatusJSON(status, resp)
}
