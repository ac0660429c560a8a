package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"communestat/settings"
)

var (
	dbPoolMap   = make(map[string]*pgxpool.Pool) // Map to store database connection pools
	dbPoolMutex sync.Mutex                       // Mutex to ensure thread safety for dbPoolMap
)

// CloseDBPools closes all the database connection pools.
// It acquires a lock on the dbPoolMutex to ensure thread safety.
// After closing the pools, it resets the dbPoolMap to an empty map.
func CloseDBPools() {
	dbPoolMutex.Lock()
	defer dbPoolMutex.Unlock()
	for _, pool := range dbPoolMap {
		pool.Close()
	}
	dbPoolMap = make(map[string]*pgxpool.Pool)
}

// GetDBPool returns a database connection pool for the specified name and
// database configuration. If a pool with the given name already exists, the
// existing pool is returned, otherwise a new pool is created, pinged and
// added to the pool map.
func GetDBPool(name string, config settings.DatabaseConfig) (*pgxpool.Pool, error) {
	dbPoolMutex.Lock()
	defer dbPoolMutex.Unlock()

	if pool, ok := dbPoolMap[name]; ok {
		return pool, nil
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %v", err)
	}
	poolConfig.MaxConns = config.MaxConnections

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database '%s': %v", name, err)
	}

	err = pool.Ping(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database '%s': %v", name, err)
	}

	log.Debugf("Opened new database pool: %s", name)
	dbPoolMap[name] = pool
	return pool, nil
}
