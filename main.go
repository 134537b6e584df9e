package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"pupilform-server-go/client"
	"pupilform-server-go/config"
	"pupilform-server-go/db"
	"pupilform-server-go/dom"
	"pupilform-server-go/flow"
	"pupilform-server-go/handlers"
)

// Page sessions idle for longer than sessionMaxAge are dropped; beyond
// maxSessions the least recently used one goes.
const (
	sessionMaxAge = 8 * time.Hour
	maxSessions   = 1000
)

func main() {
	cfg, err := config.Load(os.Getenv("PUPILS_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	redisClient, err := db.InitializeRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer redisClient.Close()

	store := db.NewRedisService(redisClient, cfg.Fields)
	if cfg.Seed {
		checkAndSeedData(ctx, store, cfg.SchoolYear)
	}

	pupilsClient, err := client.New(cfg.BaseURL, time.Duration(cfg.Timeout)*time.Millisecond)
	if err != nil {
		log.Fatalf("Failed to create pupils client: %v", err)
	}
	sessions := handlers.NewSessionStore(sessionMaxAge, maxSessions, func() (*flow.Controller, error) {
		doc, err := dom.NewDocument()
		if err != nil {
			return nil, err
		}
		return flow.New(pupilsClient, cfg.SchoolYear, doc)
	})

	router := gin.Default()
	handlers.NewAPIHandler(store).Register(router)
	handlers.NewPageHandler(sessions, store, cfg.SchoolYear).Register(router)

	log.Printf("Starting server on %s (school year %d)", cfg.Addr, cfg.SchoolYear)
	if err := router.Run(cfg.Addr); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// checkAndSeedData adds test pupils when the school year has no classes yet
func checkAndSeedData(ctx context.Context, store *db.RedisService, year int) {
	count, err := store.CountClasses(ctx, year)
	if err != nil {
		log.Printf("Warning: cannot check for existing pupil data of year %d: %v. Skipping test data.", year, err)
		return
	}
	if count == 0 {
		log.Printf("No classes found for year %d. Adding test data...", year)
		store.SeedData(ctx, year)
	} else {
		log.Printf("Found %d classes for year %d. Skipping test data.", count, year)
	}
}
