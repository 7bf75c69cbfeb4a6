package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"livraison/internal/infrastructure/migrations"
)

// SetupTestDB abre la BD de prueba.
// Espera MySQL en localhost:3306 con una base 'livraison_test', o el DSN en LIVRAISON_TEST_DSN.
func SetupTestDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("LIVRAISON_TEST_DSN")
	if dsn == "" {
		dsn = "root:@tcp(localhost:3306)/livraison_test?parseTime=true&multiStatements=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Verify connection
	err = db.Ping()
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}

	return db
}

// CleanupTestDB limpia la BD de prueba
func CleanupTestDB(t *testing.T, db *sql.DB) {
	if db == nil {
		return
	}

	tables := []string{"order_events", "order_line_items", "orders", "restaurant_notifications", "restaurants"}
	for _, table := range tables {
		_, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			t.Logf("failed to clean table %s: %v", table, err)
		}
	}

	db.Close()
}

// SetupTestTables aplica las migraciones embebidas
func SetupTestTables(t *testing.T, db *sql.DB) {
	if err := migrations.Up(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
}
