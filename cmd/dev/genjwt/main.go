// Command genjwt prints an operator token for POST /api/v1/runs.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	operator := flag.String("operator", "dev-operator", "operator name (sub claim)")
	role := flag.String("role", "operator", "role claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-123"
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  *operator,
		"role": *role,
		"jti":  uuid.NewString(),
		"exp":  now.Add(*ttl).Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
