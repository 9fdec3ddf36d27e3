// connection.go
//
// Field boundary delta-sync service for offline-capable mobile clients
// Copyright (c) 2026 AgroStack <dev@agrostack.io>
//
// This file is part of fieldsync.
// fieldsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// fieldsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with fieldsync.
// If not, see <https://www.gnu.org/licenses/>.

package database

import (
	"fmt"
	"log"

	"github.com/agrostack/fieldsync/internal/config"
	"github.com/agrostack/fieldsync/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect establishes a database connection based on the configured DB_TYPE
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBType {
	case "mysql", "mariadb":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBDatabase,
		)
		dialector = mysql.Open(dsn)

	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBDatabase,
			cfg.DBPort,
		)
		dialector = postgres.Open(dsn)

	case "sqlite":
		// For SQLite, DBDatabase is the file path
		dialector = sqlite.Open(cfg.DBDatabase)

	case "sqlserver", "mssql":
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBDatabase,
		)
		dialector = sqlserver.Open(dsn)

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQL DB for connection pool configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(cfg.DBConnectionLimit)
	sqlDB.SetMaxIdleConns(cfg.DBConnectionLimit / 2)

	log.Printf("Connected to %s database: %s", cfg.DBType, cfg.DBDatabase)

	return db, nil
}

// AutoMigrate runs automatic migrations for all models and installs the
// append-only guard on the boundary history table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.FieldRecord{},
		&models.BoundaryHistoryEntry{},
		&models.SyncCursor{},
	); err != nil {
		return err
	}
	return installHistoryGuard(db)
}

// installHistoryGuard creates database triggers that reject UPDATE/DELETE on
// boundary_history. The append-only history is a safety invariant, enforced
// in the storage engine rather than by application discipline alone.
func installHistoryGuard(db *gorm.DB) error {
	var stmts []string

	switch db.Dialector.Name() {
	case "mysql", "mariadb":
		stmts = []string{
			`DROP TRIGGER IF EXISTS boundary_history_no_update`,
			`CREATE TRIGGER boundary_history_no_update BEFORE UPDATE ON boundary_history
			 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'boundary_history is append-only'`,
			`DROP TRIGGER IF EXISTS boundary_history_no_delete`,
			`CREATE TRIGGER boundary_history_no_delete BEFORE DELETE ON boundary_history
			 FOR EACH ROW SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = 'boundary_history is append-only'`,
		}

	case "postgres":
		stmts = []string{
			`CREATE OR REPLACE FUNCTION boundary_history_append_only() RETURNS trigger AS $$
			 BEGIN
			   RAISE EXCEPTION 'boundary_history is append-only';
			 END;
			 $$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS boundary_history_guard ON boundary_history`,
			`CREATE TRIGGER boundary_history_guard BEFORE UPDATE OR DELETE ON boundary_history
			 FOR EACH ROW EXECUTE FUNCTION boundary_history_append_only()`,
		}

	case "sqlite":
		stmts = []string{
			`CREATE TRIGGER IF NOT EXISTS boundary_history_no_update BEFORE UPDATE ON boundary_history
			 BEGIN SELECT RAISE(ABORT, 'boundary_history is append-only'); END`,
			`CREATE TRIGGER IF NOT EXISTS boundary_history_no_delete BEFORE DELETE ON boundary_history
			 BEGIN SELECT RAISE(ABORT, 'boundary_history is append-only'); END`,
		}

	case "sqlserver", "mssql":
		stmts = []string{
			`CREATE OR ALTER TRIGGER boundary_history_guard ON boundary_history
			 INSTEAD OF UPDATE, DELETE AS
			 BEGIN
			   THROW 50001, 'boundary_history is append-only', 1;
			 END`,
		}

	default:
		log.Printf("No append-only trigger support for dialect %s; relying on grants", db.Dialector.Name())
		return nil
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to install history guard: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
