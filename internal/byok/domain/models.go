package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Provider names an upstream service a user can bring a key for.
type Provider string

const (
	ProviderPlaces     Provider = "places"
	ProviderGeneration Provider = "generation"
)

var Providers = []Provider{ProviderPlaces, ProviderGeneration}

func ParseProvider(value string) (Provider, bool) {
	switch Provider(value) {
	case ProviderPlaces, ProviderGeneration:
		return Provider(value), true
	default:
		return "", false
	}
}

// Credential is a sealed user key. Validity lives on the wallet, shared by
// every credential of the user.
type Credential struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID     string       `json:"user_id" gorm:"type:text;not null;uniqueIndex:ux_wallet_credentials_user_provider,priority:1"`
	Provider   Provider     `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_wallet_credentials_user_provider,priority:2"`
	Ciphertext string       `json:"-" gorm:"type:text;not null"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Credential) TableName() string { return "wallet_credentials" }

// Flags is the BYOK slice of a wallet row.
type Flags struct {
	UserID            string
	ByokEnabled       bool
	ByokValid         bool
	KeysLastCheckedAt *time.Time
}

func (f Flags) Active() bool {
	return f.ByokEnabled && f.ByokValid
}
