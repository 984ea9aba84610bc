package app

import (
	"context"

	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/locks"
	"salesforce-router/internal/oauth2"
	"salesforce-router/internal/redis"
)

// tokenKeyPrefix namespaces the token cache in a shared Redis
const tokenKeyPrefix = "salesforce-router:"

func (app *App) initializeTokenStorage(ctx context.Context) {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Token cache: in memory (Redis not configured)")
		app.TokenStorage = oauth2.NewMemoryTokenStorage()
		return
	}

	client, err := redis.NewClient(ctx, &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDatabase(),
	})
	if err != nil {
		// Each instance then exchanges credentials on its own.
		app.Logger.Warn("Redis unavailable, keeping the token in memory",
			logging.String("address", app.Config.RedisAddress),
			logging.Err(err),
		)
		app.TokenStorage = oauth2.NewMemoryTokenStorage()
		return
	}

	app.RedisClient = client
	app.TokenStorage = oauth2.NewRedisTokenStorage(client, tokenKeyPrefix)
	app.Logger.Info("Token cache: Redis", logging.String("address", client.Address()))

	locker, err := locks.NewRedsyncLocker(client, tokenKeyPrefix)
	if err != nil {
		app.Logger.Warn("Refresh lock disabled", logging.Err(err))
		return
	}
	app.RefreshLock = locker
}
