// Package users holds the accounts of the demo login provider. The consent
// server itself never sees them, only the subject the provider accepts.
package users

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID           string    `json:"id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"` // never serialize
	Verified     bool      `json:"email_verified,omitempty"`
	Blocked      bool      `json:"blocked,omitempty"`
	DateJoined   time.Time `json:"date_joined,omitempty"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// Repo stores users. Lookups by email are case-insensitive.
type Repo interface {
	Upsert(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
}

// Claims are the ID token and userinfo claims the consent provider grants
// for scopes profile and email.
func (u *User) Claims(scope []string) map[string]any {
	claims := map[string]any{}
	for _, s := range scope {
		switch s {
		case "email":
			claims["email"] = u.Email
			claims["email_verified"] = u.Verified
		case "profile":
			if u.Name != "" {
				claims["name"] = u.Name
			}
		}
	}
	return claims
}

// NormalizeEmail is the key emails are stored under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate finds the user by email and checks the password. Blocked
// users and wrong passwords look the same to the caller.
func Authenticate(ctx context.Context, repo Repo, email, password string) (*User, error) {
	u, err := repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Blocked || !CheckPasswordHash(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

var (
	ErrInvalidCredentials = fmt.Errorf("invalid email or password")
	ErrNotFound           = fmt.Errorf("user not found")
)
