package service

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/db"
)

// CreateUser creates a new user. The password must already be hashed.
func CreateUser(conn *gorm.DB, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password cannot be empty")
	}

	user := db.User{
		Username: username,
		Password: password,
	}
	return conn.Create(&user).Error
}

// GetUserByUsername retrieves a user by username.
func GetUserByUsername(conn *gorm.DB, username string) (*db.User, error) {
	var user db.User
	err := conn.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
