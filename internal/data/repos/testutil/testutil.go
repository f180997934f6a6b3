package testutil

import (
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

// DB opens the integration test database named by TEST_POSTGRES_DSN and
// migrates the full schema. Tests calling it are skipped when the variable is
// unset so the unit suite stays runnable without Postgres.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		t.Fatalf("create uuid extension: %v", err)
	}
	if err := gdb.AutoMigrate(
		&domain.Assignment{},
		&domain.Substation{},
		&domain.PlanNode{},
		&domain.NodePredecessor{},
		&domain.NodeMaterialInput{},
		&domain.Material{},
		&domain.MaterialLot{},
		&domain.LotReservation{},
		&domain.LotSequence{},
		&domain.StockMovement{},
		&domain.StatusHistory{},
	); err != nil {
		t.Fatalf("migrate test schema: %v", err)
	}
	return gdb
}

// Logger returns a development logger for test wiring.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

// Truncate clears the given tables between test cases.
func Truncate(t *testing.T, gdb *gorm.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if err := gdb.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// AllTables lists every table the schema owns, in FK-safe deletion order.
var AllTables = []string{
	"status_history",
	"stock_movement",
	"lot_reservation",
	"lot_sequence",
	"material_lot",
	"node_material_input",
	"node_predecessor",
	"assignment",
	"plan_node",
	"substation",
	"material",
}
