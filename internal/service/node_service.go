package service

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/db"
)

// ErrDuplicateNode indicates a node with the same normalized URL already
// exists.
var ErrDuplicateNode = errors.New("node already exists for this URL")

// HierarchyCodes are the placement codes derived for a stored node.
type HierarchyCodes struct {
	FunctionCode     string `json:"function_code"`
	OrganizationCode string `json:"organization_code"`
}

// CreateNode persists a new node. A normalized-URL collision is reported as
// ErrDuplicateNode so callers can surface it as a client error.
func CreateNode(conn *gorm.DB, node *db.Node) (*db.Node, error) {
	if node.URL == "" || node.NormalizedURL == "" {
		return nil, fmt.Errorf("node URL cannot be empty")
	}

	var existing db.Node
	err := conn.Where("normalized_url = ?", node.NormalizedURL).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w (id %d)", ErrDuplicateNode, existing.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := conn.Create(node).Error; err != nil {
		return nil, err
	}
	return node, nil
}

// GetNodeByID retrieves a node by id, returning nil without error when the
// node does not exist.
func GetNodeByID(conn *gorm.DB, id uint) (*db.Node, error) {
	var node db.Node
	err := conn.First(&node, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNodeByNormalizedURL retrieves a node by its normalized URL.
func GetNodeByNormalizedURL(conn *gorm.DB, normalized string) (*db.Node, error) {
	var node db.Node
	err := conn.Where("normalized_url = ?", normalized).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// UpdateClassification writes a new classification summary onto a node.
func UpdateClassification(conn *gorm.DB, id uint, category, organization string, confidence float64, reasoning string) error {
	updates := map[string]interface{}{
		"category":     category,
		"organization": organization,
		"confidence":   confidence,
		"reasoning":    reasoning,
	}
	return conn.Model(&db.Node{}).Where("id = ?", id).Updates(updates).Error
}

// DeriveHierarchyCodes computes and stores the placement codes for a node
// from its current classification. It returns nil codes when the node does
// not exist.
func DeriveHierarchyCodes(conn *gorm.DB, id uint) (*HierarchyCodes, error) {
	node, err := GetNodeByID(conn, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}

	codes := &HierarchyCodes{
		FunctionCode:     fmt.Sprintf("%s-%04d", categoryCode(node.Category), node.ID%10000),
		OrganizationCode: organizationCode(node.Organization),
	}

	updates := map[string]interface{}{
		"function_code":     codes.FunctionCode,
		"organization_code": codes.OrganizationCode,
	}
	if err := conn.Model(&db.Node{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// categoryCode maps a classification category to its short function-tree
// prefix. Unknown categories land under the reference branch.
func categoryCode(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "news":
		return "NWS"
	case "research":
		return "RES"
	case "tool", "tools":
		return "TOL"
	case "tutorial", "guide":
		return "TUT"
	case "entertainment":
		return "ENT"
	case "reference", "":
		return "REF"
	default:
		return "REF"
	}
}

// organizationCode builds a short code from the organization name initials,
// padded to three characters.
func organizationCode(organization string) string {
	org := strings.TrimSpace(organization)
	if org == "" {
		return "GEN"
	}

	var b strings.Builder
	for _, word := range strings.Fields(org) {
		r := []rune(word)[0]
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 3 {
			break
		}
	}
	code := strings.ToUpper(b.String())
	if code == "" {
		return "GEN"
	}
	for len(code) < 3 {
		code += "X"
	}
	return code
}

// DeleteNode removes a node by id.
func DeleteNode(conn *gorm.DB, id uint) error {
	return conn.Delete(&db.Node{}, id).Error
}
