package populator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/db-autofill/internal/analyzer"
	"github.com/vitebski/db-autofill/internal/config"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/internal/generator"
	"github.com/vitebski/db-autofill/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DatabasePopulator populates database tables with generated data
type DatabasePopulator struct {
	DB             *connector.DatabaseConnector
	SchemaAnalyzer *analyzer.SchemaAnalyzer
	Registry       *generator.Registry
	Config         *config.Config
	Pools          map[string]*KeyPool
	Logger         *logrus.Logger
}

// Plan is the validated work of a run: the introspected schema and the fill order
type Plan struct {
	Schema *models.SchemaInfo
	Order  []string
}

// NewDatabasePopulator creates a new database populator
func NewDatabasePopulator(
	db *connector.DatabaseConnector,
	schemaAnalyzer *analyzer.SchemaAnalyzer,
	registry *generator.Registry,
	cfg *config.Config,
	logger *logrus.Logger,
) *DatabasePopulator {
	return &DatabasePopulator{
		DB:             db,
		SchemaAnalyzer: schemaAnalyzer,
		Registry:       registry,
		Config:         cfg,
		Pools:          make(map[string]*KeyPool),
		Logger:         logger,
	}
}

// Prepare introspects the requested tables, validates the configuration against them and resolves
// the fill order. Nothing is written to the database.
func (dp *DatabasePopulator) Prepare(ctx context.Context) (*Plan, error) {
	requested := dp.Config.TableNames()
	if len(requested) == 0 {
		tables, err := dp.SchemaAnalyzer.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		if len(tables) == 0 {
			return nil, &models.ConfigError{Reason: "no tables configured and none found in the database"}
		}
		dp.Logger.Infof("No tables configured, filling all %d tables", len(tables))
		requested = tables
	}

	schema, err := dp.SchemaAnalyzer.Introspect(ctx, requested)
	if err != nil {
		return nil, err
	}

	if err := generator.ValidateOverrides(schema, dp.Config); err != nil {
		return nil, err
	}

	order, err := analyzer.ResolveFillOrder(schema)
	if err != nil {
		return nil, err
	}
	dp.Logger.Infof("Fill order: %v", order)

	return &Plan{Schema: schema, Order: order}, nil
}

// RowCount returns how many rows a table of the plan receives
func (dp *DatabasePopulator) RowCount(plan *Plan, table string) int {
	if !plan.Schema.IsRequested(table) {
		return 0
	}
	return dp.Config.RowCountFor(table)
}

// PopulateDatabase fills every requested table. Configuration-fatal problems are returned before
// any row is inserted; table failures are reported in the run report.
func (dp *DatabasePopulator) PopulateDatabase(ctx context.Context) (*models.RunReport, error) {
	started := time.Now()

	plan, err := dp.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range plan.Order {
		dp.Pools[name] = NewKeyPool(plan.Schema.Tables[name])
	}

	results := make(map[string]*models.GenerationResult, len(plan.Order))
	if dp.Config.Defaults.Workers > 1 {
		err = dp.populateLevels(ctx, plan, results)
	} else {
		err = dp.populateSequential(ctx, plan, results)
	}

	report := &models.RunReport{Order: plan.Order, StartedAt: started}
	for _, name := range plan.Order {
		if res, ok := results[name]; ok {
			report.Results = append(report.Results, res)
		}
	}
	report.Elapsed = time.Since(started)
	return report, err
}

func (dp *DatabasePopulator) populateSequential(ctx context.Context, plan *Plan, results map[string]*models.GenerationResult) error {
	conn, err := dp.DB.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	for i, name := range plan.Order {
		results[name] = dp.populateTable(ctx, conn, plan, i, name, results)
	}
	return nil
}

// populateLevels fills tables level by level; tables of one level do not reference each other
func (dp *DatabasePopulator) populateLevels(ctx context.Context, plan *Plan, results map[string]*models.GenerationResult) error {
	position := make(map[string]int, len(plan.Order))
	for i, name := range plan.Order {
		position[name] = i
	}

	var mu sync.Mutex
	for _, level := range analyzer.FillLevels(plan.Schema, plan.Order) {
		// Parents live in earlier levels, so their results are final here
		finished := make(map[string]*models.GenerationResult, len(results))
		for name, res := range results {
			finished[name] = res
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(dp.Config.Defaults.Workers)

		for _, name := range level {
			name := name
			g.Go(func() error {
				conn, err := dp.DB.DB.Conn(gctx)
				if err != nil {
					return fmt.Errorf("failed to acquire connection for %s: %w", name, err)
				}
				defer conn.Close()

				res := dp.populateTable(gctx, conn, plan, position[name], name, finished)
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (dp *DatabasePopulator) populateTable(ctx context.Context, conn *sql.Conn, plan *Plan, index int, name string, done map[string]*models.GenerationResult) *models.GenerationResult {
	table := plan.Schema.Tables[name]

	failedParent := ""
	pools := map[string]*KeyPool{name: dp.Pools[name]}
	for _, parent := range table.ReferencedTables() {
		pools[parent] = dp.Pools[parent]
		if res, ok := done[parent]; ok && res.Status == models.Failed && failedParent == "" {
			failedParent = parent
		}
	}

	m := NewTableMaterializer(dp.DB, conn, dp.Registry, dp.Config, table, pools, index, dp.Logger)
	return m.Run(ctx, dp.RowCount(plan, name), failedParent)
}
