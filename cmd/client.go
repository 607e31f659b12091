package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/porthorian/authlite"
	"github.com/porthorian/authlite/pkg/config"
	"github.com/porthorian/authlite/pkg/notify"
)

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func resolveDatabaseURL(flagValue string) (string, error) {
	databaseURL := strings.TrimSpace(flagValue)
	if databaseURL == "" {
		databaseURL = lookupEnv("AUTHLITE_DATABASE_URL")
	}
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or AUTHLITE_DATABASE_URL")
	}
	return databaseURL, nil
}

func loadSettings(files []string) (*config.Layered, error) {
	settings := config.New()
	for _, path := range files {
		if err := settings.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

// clientConfig assembles an authlite.Config from the global flags: Postgres
// storage, and a redis cache when an address is given.
func clientConfig(flags rootFlags) (authlite.Config, error) {
	databaseURL, err := resolveDatabaseURL(flags.DatabaseURL)
	if err != nil {
		return authlite.Config{}, err
	}

	settings, err := loadSettings(flags.ConfigFiles)
	if err != nil {
		return authlite.Config{}, err
	}

	logger := newLogger()
	cfg := authlite.Config{
		Logger:                logger,
		Settings:              settings,
		StrictPermissionNames: flags.Strict,
		Runtime: authlite.RuntimeConfig{
			Storage: authlite.StorageConfig{
				Backend: authlite.StorageBackendPostgres,
				Postgres: authlite.PostgresConfig{
					DSN:           databaseURL,
					SettingsTable: flags.SettingsTable,
				},
			},
		},
	}

	redisAddr := strings.TrimSpace(flags.RedisAddr)
	if redisAddr == "" {
		redisAddr = lookupEnv("AUTHLITE_REDIS_ADDR")
	}
	if redisAddr != "" {
		cfg.Runtime.Cache = authlite.CacheConfig{
			Backend: authlite.CacheBackendRedis,
			Redis: authlite.RedisCacheConfig{
				Address:   redisAddr,
				Password:  lookupEnv("AUTHLITE_REDIS_PASSWORD"),
				Namespace: flags.RedisNamespace,
			},
		}
	}

	cfg.NewMailer = func(settings config.Resolver) (*notify.Mailer, error) {
		return smtpMailer(settings, logger)
	}

	return cfg, nil
}

// smtpMailer reads smtp.* from settings, which may come from a file or the
// settings table. No smtp.address means no mailer.
func smtpMailer(settings config.Resolver, logger logr.Logger) (*notify.Mailer, error) {
	smtpAddr := config.String(settings, "smtp.address", "")
	if smtpAddr == "" {
		return nil, nil
	}

	sender := notify.NewSMTPSender(notify.SMTPConfig{
		Address:  smtpAddr,
		From:     config.String(settings, "smtp.from", ""),
		Username: config.String(settings, "smtp.username", ""),
		Password: config.String(settings, "smtp.password", ""),
	}, logger)
	return notify.NewMailer(sender, nil)
}

func openClient() (*authlite.Client, error) {
	cfg, err := clientConfig(globalFlags)
	if err != nil {
		return nil, err
	}
	return authlite.New(cfg)
}
