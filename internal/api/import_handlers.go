package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linkdex/linkdex/internal/importer"
)

// ImportHandler runs the single-URL import pipeline.
func ImportHandler(imp *importer.Importer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importer.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request format",
				"details": err.Error(),
			})
			return
		}

		result, impErr := imp.Import(c.Request.Context(), req)
		if impErr != nil {
			c.JSON(importErrorStatus(impErr.Code), gin.H{
				"code":  impErr.Code,
				"error": impErr.Message,
			})
			return
		}

		status := http.StatusCreated
		if result.Cached {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

func importErrorStatus(code importer.ErrorCode) int {
	switch code {
	case importer.CodeInvalidURL:
		return http.StatusBadRequest
	case importer.CodeDuplicate:
		return http.StatusConflict
	case importer.CodeExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
