package api

import (
	"log/slog"
	"net/http"

	"event-voucher/internal/handler/httperr"
	"event-voucher/internal/pkg/errs"

	"github.com/gin-gonic/gin"
)

var errNoPrincipal = errs.New("authenticated principal missing from context")

// abortWithUsecaseError maps the error kind to a status. Client errors carry
// the usecase message; internal ones are logged and hidden.
func abortWithUsecaseError(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.KindBadRequest:
		httperr.AbortWithError(c, http.StatusBadRequest, err, err.Error(), nil)
	case errs.KindNotFound:
		httperr.AbortWithError(c, http.StatusNotFound, err, err.Error(), nil)
	case errs.KindConflict:
		httperr.AbortWithError(c, http.StatusConflict, err, err.Error(), nil)
	default:
		slog.Error("request failed",
			"path", c.FullPath(),
			"error", err.Error(),
			"stack", errs.ExtractStackLines(err, 5))
		httperr.AbortWithError(c, http.StatusInternalServerError, err, "Internal server error", nil)
	}
}

func abortBadRequest(c *gin.Context, err error) {
	httperr.AbortWithError(c, http.StatusBadRequest, err, "Invalid request", nil)
}

func abortInternal(c *gin.Context, err error) {
	httperr.AbortWithError(c, http.StatusInternalServerError, err, "Internal server error", nil)
}
