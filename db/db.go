package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB wraps the single *sql.DB connection pool shared by the whole process.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
	dbPath     = "database.db"
)

// SetPath overrides the sqlite file path GetDB opens. If a pool is already
// open it is closed, and the next GetDB call opens and migrates path.
func SetPath(path string) {
	if dbInstance != nil {
		dbInstance.db.Close()
		dbInstance = nil
	}
	dbOnce = sync.Once{}
	dbPath = path
}

func GetDB() *DB {
	dbOnce.Do(func() {
		conn, err := sql.Open("sqlite", dbPath)
		if err != nil {
			panic(err)
		}

		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)

		var journalMode string
		err = conn.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
		if err != nil || journalMode == "delete" {
			err = conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
			if err != nil {
				log.Printf("Warning: Failed to enable WAL mode: %v", err)
			} else {
				log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
			}
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		conn.Exec("PRAGMA synchronous = NORMAL")
		conn.Exec("PRAGMA cache_size = -64000")
		conn.Exec("PRAGMA temp_store = MEMORY")
		conn.Exec("PRAGMA busy_timeout = 5000")
		conn.Exec("PRAGMA foreign_keys = ON")
		conn.Exec("PRAGMA auto_vacuum = INCREMENTAL")

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = &DB{db: conn}

		if err := dbInstance.CreateSchema(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// Conn exposes the underlying pool for packages that build their own
// queries (store.Store) on top of DB's connection management.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// WithTx runs f inside a transaction, retrying on SQLITE_BUSY.
func (d *DB) WithTx(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		if err = tx.Commit(); err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// CreateSchema creates every table the store package expects, idempotently.
func (d *DB) CreateSchema() error {
	return d.WithTx(func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
