// Package redis provides Redis connection utilities. Each key-store user
// gets its own logical database on the same server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config contains Redis connection configuration.
type Config struct {
	Addr        string         `koanf:"addr"`
	Username    string         `koanf:"username"`
	Password    string         `koanf:"password"`
	PoolSize    int            `koanf:"pool_size"`
	DialTimeout time.Duration  `koanf:"dial_timeout"`
	Databases   map[string]int `koanf:"databases"`
}

// Connect opens a client for logical database db and verifies it responds.
func Connect(ctx context.Context, cfg Config, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          db,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis db %d: %w", db, err)
	}
	return client, nil
}

// ConnectAll opens one client per named database in cfg.Databases. Users
// missing from the map share database 0.
func ConnectAll(ctx context.Context, cfg Config, users []string) (map[string]*redis.Client, error) {
	clients := make(map[string]*redis.Client, len(users))
	for _, user := range users {
		db := cfg.Databases[user]
		client, err := Connect(ctx, cfg, db)
		if err != nil {
			_ = CloseAll(clients)
			return nil, fmt.Errorf("connect %s store: %w", user, err)
		}
		slog.Info("connected to redis", "store_user", user, "db", db)
		clients[user] = client
	}
	return clients, nil
}

// CloseAll closes every client and joins their errors.
func CloseAll(clients map[string]*redis.Client) error {
	var errs []error
	for user, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}
