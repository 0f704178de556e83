package main

import (
	"flag"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/linkdex/linkdex/internal/config"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/service"
)

func main() {
	username := flag.String("username", "admin", "Admin username")
	password := flag.String("password", "adminpass", "Admin password")
	force := flag.Bool("force", false, "Force recreation of the admin user")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("Username and password cannot be empty")
	}
	if len(*password) < 6 {
		log.Fatal("Password must be at least 6 characters long")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := db.Init(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	existing, err := service.GetUserByUsername(conn, *username)
	if err == nil && existing != nil {
		if !*force {
			log.Printf("User %q already exists, use -force to recreate", *username)
			return
		}
		if err := conn.Delete(&db.User{}, existing.ID).Error; err != nil {
			log.Fatalf("Failed to remove existing user: %v", err)
		}
	} else if err != nil && err != gorm.ErrRecordNotFound {
		log.Fatalf("Failed to look up user: %v", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	if err := service.CreateUser(conn, *username, string(hashed)); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	log.Printf("Seeded admin user %q", *username)
}
