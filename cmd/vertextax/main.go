package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vertextax/internal/billing"
	"github.com/smallbiznis/vertextax/internal/cache"
	"github.com/smallbiznis/vertextax/internal/clock"
	"github.com/smallbiznis/vertextax/internal/config"
	"github.com/smallbiznis/vertextax/internal/migration"
	"github.com/smallbiznis/vertextax/internal/observability"
	"github.com/smallbiznis/vertextax/internal/ratelimit"
	"github.com/smallbiznis/vertextax/internal/server"
	"github.com/smallbiznis/vertextax/internal/tax"
	"github.com/smallbiznis/vertextax/internal/vertex"
	"github.com/smallbiznis/vertextax/pkg/db"
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
		cache.Module,

		// Functional Domains
		billing.Module,
		vertex.Module,
		tax.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
