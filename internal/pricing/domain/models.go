package domain

import "time"

// CreditCost is the price, in credits, of one billable action.
type CreditCost struct {
	ActionType      string    `json:"action_type" gorm:"primaryKey;type:text"`
	CreditsRequired int64     `json:"credits_required" gorm:"not null;check:chk_credit_costs_credits_required,credits_required > 0"`
	Description     string    `json:"description" gorm:"type:text;not null;default:''"`
	IsActive        bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CreditCost) TableName() string { return "credit_costs" }
