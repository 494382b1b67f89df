package database

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/riverapi/internal/log"
	"go.uber.org/zap"

	// registers the pure-Go "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func gormConfig() *gorm.Config {
	// Create a logger for gorm
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	return &gorm.Config{
		Logger:         dbLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateConnection opens a database handle for the given driver with the
// standard GORM configuration
func CreateConnection(driver, connectionString string) (*gorm.DB, error) {
	switch driver {
	case DriverPostgres, "":
		log.Info("connecting to PostgreSQL...")
		db, err := gorm.Open(postgres.Open(connectionString), gormConfig())
		if err != nil {
			log.Warn("warning: unable to create a PostgreSQL connection:", err)
			return nil, err
		}
		return db, nil
	case DriverSQLite:
		log.Infof("opening SQLite database %s...", connectionString)
		conn, err := sql.Open("sqlite", connectionString)
		if err != nil {
			return nil, fmt.Errorf("unable to open SQLite database: %w", err)
		}
		// SQLite serializes writers; a single connection also keeps
		// in-memory databases alive across queries
		conn.SetMaxOpenConns(1)

		db, err := gorm.Open(sqlite.Dialector{Conn: conn}, gormConfig())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("unable to initialize SQLite database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
