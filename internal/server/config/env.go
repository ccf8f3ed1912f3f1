package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dmitrijs2005/tradeauth/internal/timex"
)

// EnvPrefix prefixes every environment variable read by the server.
const EnvPrefix = "TRADEAUTH_"

func envOptions() env.Options {
	return env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (any, error) {
				return timex.ParseDuration(v)
			},
		},
	}
}

// ParseEnv overlays TRADEAUTH_* variables onto cfg. Unset variables leave
// fields untouched.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, envOptions()); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func parseEnv(cfg *Config) {
	if err := ParseEnv(cfg); err != nil {
		panic(err)
	}
}
