// Command tokengen prints a bearer token for local testing against the
// gateway. It signs with JWT_SECRET, read from the environment or .env.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/wichananm65/shop-order-platform/internal/auth"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Int("user-id", 1, "user id placed in the token")
	email := flag.String("email", "dev@example.com", "email placed in the token")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}
	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "-user-id must be positive")
		os.Exit(2)
	}

	token, err := auth.NewVerifier(secret).Sign(*userID, *email)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
