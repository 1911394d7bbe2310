package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leadforge/internal/audit"
	"github.com/smallbiznis/leadforge/internal/auth"
	"github.com/smallbiznis/leadforge/internal/authorization"
	"github.com/smallbiznis/leadforge/internal/billing"
	"github.com/smallbiznis/leadforge/internal/byok"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	"github.com/smallbiznis/leadforge/internal/ledger"
	"github.com/smallbiznis/leadforge/internal/metering"
	"github.com/smallbiznis/leadforge/internal/migration"
	"github.com/smallbiznis/leadforge/internal/observability"
	"github.com/smallbiznis/leadforge/internal/pricing"
	"github.com/smallbiznis/leadforge/internal/providers"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"github.com/smallbiznis/leadforge/internal/scheduler"
	"github.com/smallbiznis/leadforge/internal/server"
	"github.com/smallbiznis/leadforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		fx.Provide(func(l *ratelimit.Locker) byokdomain.Locker { return l }),

		// Credit domains
		pricing.Module,
		ledger.Module,
		byok.Module,
		providers.Module,
		metering.Module,
		billing.Module,

		// Access
		authorization.Module,
		auth.Module,
		audit.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
