package cmd

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			for _, table := range []string{"ledger_entries", "wallet_balances", "transactions", "operators"} {
				if _, err := db.Exec("DELETE FROM " + table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

		operatorEmail := "reviewer@guidy.app"
		var exists int
		row := db.QueryRow("SELECT 1 FROM operators WHERE email = $1", operatorEmail)
		if err := row.Scan(&exists); err == nil {
			fmt.Println("reviewer operator already exists")
		} else {
			_, err := db.Exec(
				"INSERT INTO operators (id, email, name, password_hash, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, true, now(), now())",
				uuid.NewString(), operatorEmail, "Payments Reviewer", string(hash))
			if err != nil {
				log.Fatalf("failed to insert operator: %v", err)
			}
			fmt.Println("Seeded operator:", operatorEmail)
		}

		sampleOwner := "00000000-0000-0000-0000-000000000001"
		row = db.QueryRow("SELECT 1 FROM wallet_balances WHERE owner_id = $1", sampleOwner)
		if err := row.Scan(&exists); err == nil {
			fmt.Println("sample wallet already exists")
		} else {
			_, err := db.Exec(
				"INSERT INTO wallet_balances (owner_id, token_balance, updated_at) VALUES ($1, 0, now())",
				sampleOwner)
			if err != nil {
				log.Fatalf("failed to insert sample wallet: %v", err)
			}
			fmt.Println("Seeded sample wallet:", sampleOwner)
		}
	},
}
