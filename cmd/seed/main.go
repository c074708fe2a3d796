package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/fleetbridge/backend/internal/db"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/secrets"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// UserData represents the structure of users in the JSON file
type UserData struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	TenantID  uint   `json:"tenantId"`
}

// JSONData represents the structure of the JSON files
type JSONData struct {
	Users []UserData `json:"users"`
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Connect to database
	db.Connect()

	// Run migrations first
	log.Println("Running database migrations...")
	db.AutoMigrate()

	// Seed database with sample data
	log.Println("Seeding database with sample data...")

	// Load and create users from JSON
	if err := seedUsers(); err != nil {
		log.Printf("Error seeding users: %v", err)
	}

	if err := seedInventory(); err != nil {
		log.Printf("Error seeding inventory: %v", err)
	}

	log.Println("✅ Database seeding completed successfully!")
}

func seedUsers() error {
	// Read users JSON file
	usersData, err := os.ReadFile("data/initial-users.json")
	if err != nil {
		return err
	}

	var jsonData JSONData
	if err := json.Unmarshal(usersData, &jsonData); err != nil {
		return err
	}

	// Create users
	for _, userData := range jsonData.Users {
		// Hash password
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(userData.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing password for %s: %v", userData.Email, err)
			continue
		}

		// Map role string to Role enum
		var role models.UserRole
		switch userData.Role {
		case "admin":
			role = models.RoleAdmin
		case "operator":
			role = models.RoleOperator
		case "viewer":
			role = models.RoleViewer
		default:
			log.Printf("Unknown role %s for user %s, defaulting to viewer", userData.Role, userData.Email)
			role = models.RoleViewer
		}

		tenantID := userData.TenantID
		if tenantID == 0 {
			tenantID = 1
		}

		user := models.User{
			TenantID:  tenantID,
			Email:     userData.Email,
			Password:  string(hashedPassword),
			FirstName: userData.FirstName,
			LastName:  userData.LastName,
			Role:      role,
		}

		// Check if user already exists
		var existingUser models.User
		if err := db.DB.Where("email = ?", user.Email).First(&existingUser).Error; err != nil {
			if err := db.DB.Create(&user).Error; err != nil {
				log.Printf("Error creating user %s: %v", user.Email, err)
			} else {
				log.Printf("✅ Created user: %s (%s)", user.Email, user.Role)
			}
		} else {
			log.Printf("⚠️  User already exists: %s", user.Email)
		}
	}

	return nil
}

// seedInventory creates a small routable topology for tenant 1: two regions,
// one lab credential and a handful of devices spread across them.
func seedInventory() error {
	box, err := secrets.NewBoxFromEnv()
	if err != nil {
		return err
	}

	regions := []models.Region{
		{TenantID: 1, Identifier: "us-east", Priority: 10, Enabled: true, HealthStatus: models.RegionHealthy},
		{TenantID: 1, Identifier: "eu-west", Priority: 5, Enabled: true, HealthStatus: models.RegionHealthy},
	}
	for i := range regions {
		var existing models.Region
		err := db.DB.Where("tenant_id = ? AND identifier = ?", regions[i].TenantID, regions[i].Identifier).
			First(&existing).Error
		if err == nil {
			regions[i] = existing
			log.Printf("⚠️  Region already exists: %s", existing.Identifier)
			continue
		}
		if err := db.DB.Create(&regions[i]).Error; err != nil {
			return err
		}
		log.Printf("✅ Created region: %s", regions[i].Identifier)
	}

	secret := os.Getenv("SEED_DEVICE_PASSWORD")
	if secret == "" {
		secret = "lab-password"
	}
	sealed, err := box.Seal(secret)
	if err != nil {
		return err
	}

	cred := models.Credential{TenantID: 1, Name: "lab-default", Username: "netops", SecretSealed: sealed, Port: 22}
	var existingCred models.Credential
	if err := db.DB.Where("tenant_id = ? AND name = ?", cred.TenantID, cred.Name).First(&existingCred).Error; err != nil {
		if err := db.DB.Create(&cred).Error; err != nil {
			return err
		}
		log.Printf("✅ Created credential: %s", cred.Name)
	} else {
		cred = existingCred
		log.Printf("⚠️  Credential already exists: %s", cred.Name)
	}

	devices := []models.Device{
		{TenantID: 1, Name: "edge-nyc-01", Address: "10.0.1.1", Platform: "ios-xe", Role: "edge", Site: "nyc", Tags: []string{"prod"}, RegionID: &regions[0].ID, CredentialID: cred.ID},
		{TenantID: 1, Name: "edge-nyc-02", Address: "10.0.1.2", Platform: "ios-xe", Role: "edge", Site: "nyc", Tags: []string{"prod"}, RegionID: &regions[0].ID, CredentialID: cred.ID},
		{TenantID: 1, Name: "core-ams-01", Address: "10.1.1.1", Platform: "junos", Role: "core", Site: "ams", Tags: []string{"prod", "core"}, RegionID: &regions[1].ID, CredentialID: cred.ID},
		{TenantID: 1, Name: "lab-sw-01", Address: "10.9.0.1", Platform: "eos", Role: "access", Site: "lab", Tags: []string{"lab"}, CredentialID: cred.ID},
	}
	for i := range devices {
		var existing models.Device
		if err := db.DB.Where("tenant_id = ? AND name = ?", devices[i].TenantID, devices[i].Name).
			First(&existing).Error; err == nil {
			log.Printf("⚠️  Device already exists: %s", existing.Name)
			continue
		}
		if err := db.DB.Create(&devices[i]).Error; err != nil {
			return err
		}
		log.Printf("✅ Created device: %s", devices[i].Name)
	}

	return nil
}
