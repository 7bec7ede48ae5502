package main

import (
	"flag"
	"log"

	"assembler/cmd/migration/versions"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:      "0_initial_schema",
			Migrate: versions.Migration_0_initial_schema,
		},
	}
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	dsn := flag.String("dsn", "", "Postgres DSN to migrate. Overrides the DATABASE_URI env variable.")

	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}

	databaseDsn := *dsn
	if databaseDsn == "" {
		databaseDsn = postgresDsnFromEnv()
	}

	db, err := gorm.Open(postgres.Open(databaseDsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations())

	if err := m.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("all migrations applied")
}
