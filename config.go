package dstore

import (
	"log/slog"

	"github.com/jinzhu/copier"
)

const defaultExprCacheSize = 128
const defaultExprCacheShards = 4

// Limits are the numeric tunables of a Store. Zero fields keep their defaults.
type Limits struct {
	// ExprCacheSize bounds the number of compiled filter expressions kept.
	// A negative size disables the cache.
	ExprCacheSize   int
	ExprCacheShards int
}

type Config struct {
	Adapter   Adapter
	Logger    *slog.Logger
	OnFailure FailureObserver
	Limits    Limits
}

func DefaultConfig() Config {
	return Config{
		Logger: slog.Default(),
		Limits: Limits{
			ExprCacheSize:   defaultExprCacheSize,
			ExprCacheShards: defaultExprCacheShards,
		},
	}
}

func resolveConfig(cfg *Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}

	if err := copier.CopyWithOption(&c.Limits, &cfg.Limits, copier.Option{IgnoreEmpty: true}); err != nil {
		panic("could not apply store limits: " + err.Error())
	}

	c.Adapter = cfg.Adapter
	c.OnFailure = cfg.OnFailure
	if cfg.Logger != nil {
		c.Logger = cfg.Logger
	}

	return c
}
