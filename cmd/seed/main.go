// seed inserts development sample data: a coach, an athlete who redeemed the coach's invitation,
// and one open invitation whose link is printed. Idempotent: exits early if the dev coach exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"coachhub/internal/config"
	"coachhub/internal/db"
	identityrepo "coachhub/internal/identity/repository"
	identityservice "coachhub/internal/identity/service"
	invitationrepo "coachhub/internal/invitation/repository"
	invitationservice "coachhub/internal/invitation/service"
	"coachhub/internal/logging"
	"coachhub/internal/policy/engine"
	"coachhub/internal/security"
	sessionrepo "coachhub/internal/session/repository"
)

const (
	devCoachEmail   = "coach@example.com"
	devAthleteEmail = "athlete@example.com"
	devOpenEmail    = "prospect@example.com"
	devPassword     = "Password123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	logger := logging.New("coachhub-seed", cfg.LogLevel, "text")
	authz, err := engine.NewOPAAuthorizer(ctx, engine.DefaultRolePolicy, logger)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	hasher := security.NewHasher(cfg.BcryptCost)
	identities := identityrepo.NewPostgresRepository(conn)

	auth := identityservice.NewAuthService(identities, sessionrepo.NewPostgresRepository(conn), hasher, cfg.SessionTTL(),
		identityservice.WithLogger(logger))
	invitations := invitationservice.NewService(
		invitationrepo.NewPostgresRepository(conn),
		identities,
		invitationrepo.NewPostgresTxRunner(conn),
		authz,
		hasher,
		cfg.BaseURL,
		cfg.InvitationTTL(),
		invitationservice.WithLogger(logger),
	)

	coach, err := auth.Register(ctx, devCoachEmail, devPassword, "Dev Coach")
	if errors.Is(err, identityservice.ErrEmailAlreadyRegistered) {
		fmt.Println("seed: dev coach already exists, skipping")
		return
	}
	if err != nil {
		log.Fatalf("register coach: %v", err)
	}

	redeemed, err := invitations.Issue(ctx, coach, devAthleteEmail)
	if err != nil {
		log.Fatalf("issue invitation: %v", err)
	}
	athlete, err := invitations.Redeem(ctx, redeemed.Token, invitationservice.NewAthlete{
		Name:     "Dev Athlete",
		Password: devPassword,
	})
	if err != nil {
		log.Fatalf("redeem invitation: %v", err)
	}

	open, err := invitations.Issue(ctx, coach, devOpenEmail)
	if err != nil {
		log.Fatalf("issue invitation: %v", err)
	}

	fmt.Printf("seed: coach %s (%s), athlete %s (%s), password %q\n", devCoachEmail, coach.ID, devAthleteEmail, athlete.ID, devPassword)
	fmt.Printf("seed: open invitation for %s: %s\n", devOpenEmail, open.Link)
}
