package password

import (
	"encoding/base64"
	"fmt"
	"log" // all kids love log

	"golang.org/x/crypto/bcrypt"
)

// Hash bcrypts the owner password for storage in site config.
func Hash(pw string) string {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("can't hash password: %v", err)
	}
	return base64.RawStdEncoding.EncodeToString(bytes)
}

// Checker validates candidate passwords against one stored hash.
type Checker struct {
	hash []byte
}

func NewChecker(storedHash string) (*Checker, error) {
	bytes, err := base64.RawStdEncoding.DecodeString(storedHash)
	if err != nil {
		return nil, fmt.Errorf("can't decode hashed password: %w", err)
	}
	return &Checker{hash: bytes}, nil
}

func (ch *Checker) Validate(pw string) error {
	if err := bcrypt.CompareHashAndPassword(ch.hash, []byte(pw)); err != nil {
		return fmt.Errorf("invalid password")
	}
	return nil
}
