package mpostgres

import (
	"database/sql"
	"errors"
	"net/url"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/lunamall/seckill/pkg/mlog"

	// File system migration source, used as source in migrate.NewWithDatabaseInstance.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// PostgresConnection is a hub which deal with postgres connections.
type PostgresConnection struct {
	ConnectionStringPrimary string
	ConnectionStringReplica string
	PrimaryDBName           string
	ReplicaDBName           string
	MigrationsPath          string
	ConnectionDB            *dbresolver.DB
	Connected               bool
	Logger                  mlog.Logger
}

// Connect keeps a singleton connection with postgres.
func (pc *PostgresConnection) Connect() error {
	pc.Logger.Info("Connecting to primary and replica databases...")

	dbPrimary, err := sql.Open("pgx", pc.ConnectionStringPrimary)
	if err != nil {
		pc.Logger.Errorf("failed to open connect to primary database: %v", err)

		return err
	}

	dbReadOnlyReplica, err := sql.Open("pgx", pc.ConnectionStringReplica)
	if err != nil {
		pc.Logger.Errorf("failed to open connect to replica database: %v", err)

		return err
	}

	connectionDB := dbresolver.New(
		dbresolver.WithPrimaryDBs(dbPrimary),
		dbresolver.WithReplicaDBs(dbReadOnlyReplica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB))

	migrationsPath, err := filepath.Abs(pc.MigrationsPath)
	if err != nil {
		pc.Logger.Errorf("failed get filepath: %v", err)

		return err
	}

	primaryURL, err := url.Parse(filepath.ToSlash(migrationsPath))
	if err != nil {
		pc.Logger.Errorf("failed parse url: %v", err)

		return err
	}

	primaryURL.Scheme = "file"

	primaryDriver, err := postgres.WithInstance(dbPrimary, &postgres.Config{
		MultiStatementEnabled: true,
		DatabaseName:          pc.PrimaryDBName,
		SchemaName:            "public",
	})
	if err != nil {
		pc.Logger.Errorf("failed to open migration driver: %v", err)

		return err
	}

	m, err := migrate.NewWithDatabaseInstance(primaryURL.String(), pc.PrimaryDBName, primaryDriver)
	if err != nil {
		pc.Logger.Errorf("failed to get migrations: %v", err)

		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	if err := connectionDB.Ping(); err != nil {
		pc.Logger.Errorf("PostgresConnection.Ping %v", err)

		return err
	}

	pc.Connected = true
	pc.ConnectionDB = &connectionDB

	pc.Logger.Info("Connected to postgres ✅ ")

	return nil
}

// GetDB returns a pointer to the postgres connection, initializing it if necessary.
func (pc *PostgresConnection) GetDB() (dbresolver.DB, error) {
	if pc.ConnectionDB == nil {
		if err := pc.Connect(); err != nil {
			pc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return *pc.ConnectionDB, nil
}
