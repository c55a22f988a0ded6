package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// PoolConfig carries the pool sizing knobs from configuration.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// ParsePoolConfig builds a pgxpool configuration for url with the given sizes.
func ParsePoolConfig(url string, sizes PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if sizes.MaxConns > 0 {
		cfg.MaxConns = sizes.MaxConns
	}
	if sizes.MinConns > 0 {
		cfg.MinConns = sizes.MinConns
	}
	return cfg, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
