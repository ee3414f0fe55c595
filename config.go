package gorawrcache

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/goRawrCache/breaker"
	"github.com/Keksclan/goRawrCache/policy"
	"github.com/Keksclan/goRawrCache/retry"
	"github.com/Keksclan/goRawrCache/tracing"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	// settings starts as DefaultSettings and absorbs WithLocal/WithRemote.
	settings Settings

	rdb       redis.UniversalClient
	redisOpts *redis.Options
	redisURL  string
	keyPrefix string

	logger   *slog.Logger
	registry *prometheus.Registry
	tracing  *tracing.Config
	breaker  *breaker.Config

	ristretto bool
	groups    []*policy.GroupBuilder

	refreshRPS   float64
	refreshBurst int
	refreshRetry retry.Config
}
