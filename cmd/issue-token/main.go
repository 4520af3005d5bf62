package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"callintel/internal/auth"
	"callintel/internal/config"
	"callintel/internal/rbac"

	"github.com/joho/godotenv"
)

// issue-token prints an access token for an operator.
//
//	issue-token -user alice -role operator
func main() {
	user := flag.String("user", "", "user id carried in the token")
	role := flag.String("role", rbac.RoleViewer, "role: viewer, operator or admin")
	ttl := flag.Duration("ttl", 0, "access token lifetime (defaults to JWT_ACCESS_TTL)")
	refresh := flag.Bool("refresh", false, "also print a refresh token")
	flag.Parse()

	_ = godotenv.Load()

	if *user == "" || !rbac.IsKnown(*role) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.Auth.AccessTokenTTL = *ttl
		if cfg.Auth.RefreshTokenTTL <= *ttl {
			cfg.Auth.RefreshTokenTTL = 2 * *ttl
		}
	}

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	pair, err := m.IssuePair(time.Now(), *user, *role)
	if err != nil {
		slog.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(pair.AccessToken)
	if *refresh {
		fmt.Println(pair.RefreshToken)
	}
}
