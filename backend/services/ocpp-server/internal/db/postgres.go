package db

import (
	"context"
	"database/sql"

	libdb "ocpphub/backend/libs/db"
	"ocpphub/backend/services/ocpp-server/internal/repository"
)

// NewPostgres opens the shared pool and makes sure the server's tables exist.
func NewPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := libdb.NewPostgresDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := repository.EnsureSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}
