// Command gentoken prints a session token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/corkboard/server/internal/auth"
	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user-id", "", "user id to sign for (default: random)")
	expiry := flag.Duration("expiry", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT_SECRET is required")
		os.Exit(1)
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "corkboard"
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}

	token, err := auth.NewJWTManager(secret, *expiry, issuer).Generate(*userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("User:", *userID)
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println("\nTest with:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/wines/similar\n", token)
}
