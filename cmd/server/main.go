package main // Entry point package

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/miel-team/nextmatch-reveal/internal/config"
	"github.com/miel-team/nextmatch-reveal/internal/database"
	"github.com/miel-team/nextmatch-reveal/internal/handler"
	"github.com/miel-team/nextmatch-reveal/internal/presence"
	"github.com/miel-team/nextmatch-reveal/internal/queue"
	"github.com/miel-team/nextmatch-reveal/internal/realtime"
	"github.com/miel-team/nextmatch-reveal/internal/repository"
	"github.com/miel-team/nextmatch-reveal/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; live fan-out, resurfacing and rate limiting disabled")
	}

	revealRepo := repository.NewRevealRepo(db)
	userRepo := repository.NewUserRepo(db)
	tracker := presence.NewTracker(rdb, cfg.PresenceWindow)
	hub := realtime.NewHub(rdb, cfg.ChannelPrefix)

	// Bridge the detector's durable match.created announcements into
	// per-user realtime delivery. Runs for the lifetime of the process.
	go func() {
		if err := queue.StartRevealConsumer(revealRepo, userRepo, hub); err != nil {
			log.Printf("reveal consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterReveals(e,
		handler.NewRevealHandler(revealRepo, tracker, cfg.ResurfaceCooldown),
		tracker,
		cfg.JWTSecret,
		config.LoadRateLimitConfig(),
		rdb,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
