package gorawrcache

import (
	"time"

	"github.com/Keksclan/goRawrCache/cache"
)

// Settings are the tier parameters of one wrapped function.
type Settings struct {
	Local  cache.LocalConfig
	Remote cache.RemoteConfig
}

// DefaultSettings returns the settings used when nothing is overridden. Each
// call returns a fresh value.
func DefaultSettings() Settings {
	return Settings{
		Local: cache.LocalConfig{
			MaxEntries: 1000,
			TTL:        60 * time.Second,
		},
		Remote: cache.RemoteConfig{
			MaxEntries:     10000,
			TTL:            5 * time.Minute,
			CommandTimeout: 50 * time.Millisecond,
		},
	}
}
