// Command backfill is an example application built on batchmig. It fills
// users.display_name in fixed-size batches.
//
//	backfill register
//	backfill run-next --duration 30s
//	backfill serve
package main

import (
	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/example/backfill/internal/migration"
	"github.com/tigerroll/batchmig/pkg/batch/cli"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	cli.Execute(cli.App{
		Name:       "backfill",
		Config:     embeddedConfig,
		Migrations: []fx.Option{migration.Module},
	})
}
