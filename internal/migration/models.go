package migration

import (
	auditdomain "github.com/smallbiznis/leadforge/internal/audit/domain"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	"gorm.io/gorm"
)

// AutoMigrate creates the schema from the gorm models. Used for dialects the
// SQL migrations do not target (sqlite, mysql).
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&pricingdomain.CreditCost{},
		&ledgerdomain.Wallet{},
		&ledgerdomain.Transaction{},
		&byokdomain.Credential{},
		&billingdomain.Plan{},
		&billingdomain.Subscription{},
		&billingdomain.Payment{},
		&auditdomain.AuditLog{},
	)
}
