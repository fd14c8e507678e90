package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/taskmarket/internal/middleware"
	"github.com/sudo-init-do/taskmarket/internal/utils"
)

func main() {
	account := flag.String("account", "", "Account id to issue a token for")
	admin := flag.Bool("admin", false, "Grant the admin role")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *account == "" {
		log.Fatalf("usage: go run cmd/adminutil/issue_token/main.go -account alice [-admin] [-ttl 1h]")
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatalf("JWT_SECRET is not set")
	}

	role := "agent"
	if *admin {
		role = middleware.RoleAdmin
	}
	tok, err := utils.IssueToken([]byte(secret), *account, role, *ttl)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(tok)
}
