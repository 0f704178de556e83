package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/extractor"
	"github.com/linkdex/linkdex/internal/service"
)

// PaginatedResponse wraps a page of results.
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
	Pages int         `json:"pages"`
}

// NodeDetail is a node with its details bag decoded.
type NodeDetail struct {
	db.Node
	DetailFields *extractor.Details `json:"detail_fields,omitempty"`
}

// GetNodeHandler returns one node with decoded family-specific details.
func GetNodeHandler(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node ID"})
			return
		}

		node, err := service.GetNodeByID(conn, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if node == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
			return
		}

		detail := NodeDetail{Node: *node}
		if node.Details != "" {
			var fields extractor.Details
			if err := json.Unmarshal([]byte(node.Details), &fields); err == nil {
				detail.DetailFields = &fields
			}
		}
		c.JSON(http.StatusOK, detail)
	}
}

// ListNodesHandler lists nodes with pagination, search and filters.
func ListNodesHandler(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		pageSize, err := strconv.Atoi(c.DefaultQuery("size", "20"))
		if err != nil || pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		sort := c.DefaultQuery("sort", "created_at desc")
		allowedSorts := map[string]bool{
			"created_at desc": true,
			"created_at asc":  true,
			"updated_at desc": true,
			"updated_at asc":  true,
			"title asc":       true,
			"title desc":      true,
		}
		if !allowedSorts[sort] {
			sort = "created_at desc"
		}

		query := conn.Model(&db.Node{})
		if search := strings.TrimSpace(c.Query("q")); search != "" {
			like := "%" + search + "%"
			query = query.Where("url LIKE ? OR title LIKE ? OR description LIKE ?", like, like, like)
		}
		if contentType := strings.TrimSpace(c.Query("content_type")); contentType != "" {
			query = query.Where("content_type = ?", contentType)
		}
		if category := strings.TrimSpace(c.Query("category")); category != "" {
			query = query.Where("category = ?", category)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		offset := (page - 1) * pageSize
		pages := int((total + int64(pageSize) - 1) / int64(pageSize))

		var nodes []db.Node
		if err := query.Order(sort).Limit(pageSize).Offset(offset).Find(&nodes).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, PaginatedResponse{
			Data:  nodes,
			Page:  page,
			Size:  pageSize,
			Total: total,
			Pages: pages,
		})
	}
}
