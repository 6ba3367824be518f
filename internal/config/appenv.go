package config

import (
	"fmt"
	"strconv"
	"strings"
)

// PlaceholderSecretKey is the SECRET_KEY value shipped in the .env template.
const PlaceholderSecretKey = "your-secret-key-change-this-in-production"

// AppEnv is the subset of the application's .env that the bootstrap consumes.
// Zero values mean "not set in the file".
type AppEnv struct {
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	RedisHost        string
	RedisPort        int
	RedisPassword    string
	// RedisDB is nil when REDIS_DB is absent.
	RedisDB   *int
	SecretKey string
	Debug     bool
}

// ParseAppEnv reads the known keys from vars. Key lookup is case-insensitive
// because the dotenv reader normalises case.
func ParseAppEnv(vars map[string]string) (AppEnv, error) {
	get := func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		for k, v := range vars {
			if strings.EqualFold(k, key) {
				return v
			}
		}
		return ""
	}

	env := AppEnv{
		DatabaseHost:     get("DATABASE_HOST"),
		DatabaseUser:     get("DATABASE_USER"),
		DatabasePassword: get("DATABASE_PASSWORD"),
		DatabaseName:     get("DATABASE_NAME"),
		RedisHost:        get("REDIS_HOST"),
		RedisPassword:    get("REDIS_PASSWORD"),
		SecretKey:        get("SECRET_KEY"),
	}

	var err error
	if env.DatabasePort, err = parsePort("DATABASE_PORT", get("DATABASE_PORT")); err != nil {
		return AppEnv{}, err
	}
	if env.RedisPort, err = parsePort("REDIS_PORT", get("REDIS_PORT")); err != nil {
		return AppEnv{}, err
	}

	if raw := get("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return AppEnv{}, fmt.Errorf("REDIS_DB: %q is not a database index", raw)
		}
		env.RedisDB = &db
	}

	if raw := get("DEBUG"); raw != "" {
		env.Debug, err = strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return AppEnv{}, fmt.Errorf("DEBUG: %q is not a boolean", raw)
		}
	}

	return env, nil
}

// HasPlaceholderSecret reports whether SECRET_KEY still carries the template value.
func (e AppEnv) HasPlaceholderSecret() bool {
	return e.SecretKey == "" || e.SecretKey == PlaceholderSecretKey
}

// Overlay returns a copy of b with the connection settings found in env.
func (b BootstrapConfig) Overlay(env AppEnv) BootstrapConfig {
	out := b
	if env.DatabaseHost != "" {
		out.Postgres.Host = env.DatabaseHost
	}
	if env.DatabasePort != 0 {
		out.Postgres.Port = env.DatabasePort
	}
	if env.DatabaseUser != "" {
		out.Postgres.User = env.DatabaseUser
	}
	if env.DatabasePassword != "" {
		out.Postgres.Password = env.DatabasePassword
	}
	if env.DatabaseName != "" {
		out.Postgres.DB = env.DatabaseName
	}
	if env.RedisHost != "" {
		out.Redis.Host = env.RedisHost
	}
	if env.RedisPort != 0 {
		out.Redis.Port = env.RedisPort
	}
	if env.RedisPassword != "" {
		out.Redis.Password = env.RedisPassword
	}
	if env.RedisDB != nil {
		out.Redis.DB = *env.RedisDB
	}
	return out
}

func parsePort(key, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%s: %q is not a valid port", key, raw)
	}
	return p, nil
}
