package db

import (
	"fmt"
	"log"
	"os"

	"github.com/fleetbridge/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect initializes the database connection
func Connect() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error), // Reduce logging to avoid issues
	})

	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	log.Println("✅ Database connected successfully")
}

// AutoMigrate runs database migrations
func AutoMigrate() {
	log.Println("Migrating User model...")
	if err := DB.AutoMigrate(&models.User{}); err != nil {
		log.Printf("User migration failed: %v", err)
		return
	}

	log.Println("Migrating Region model...")
	if err := DB.AutoMigrate(&models.Region{}); err != nil {
		log.Printf("Region migration failed: %v", err)
		return
	}

	log.Println("Migrating Credential model...")
	if err := DB.AutoMigrate(&models.Credential{}); err != nil {
		log.Printf("Credential migration failed: %v", err)
		return
	}

	log.Println("Migrating Device model...")
	if err := DB.AutoMigrate(&models.Device{}); err != nil {
		log.Printf("Device migration failed: %v", err)
		return
	}

	log.Println("Migrating Job model...")
	if err := DB.AutoMigrate(&models.Job{}); err != nil {
		log.Printf("Job migration failed: %v", err)
		return
	}

	log.Println("Migrating JobLogEntry model...")
	if err := DB.AutoMigrate(&models.JobLogEntry{}); err != nil {
		log.Printf("JobLogEntry migration failed: %v", err)
		return
	}

	log.Println("✅ All database migrations completed successfully")
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
