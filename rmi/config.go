package rmi

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"

	"github.com/asyncrmi/asyncrmi/config"
	"github.com/asyncrmi/asyncrmi/rmi/conn"
	"github.com/asyncrmi/asyncrmi/rmi/marshal"
	"github.com/asyncrmi/asyncrmi/rmi/pool"
)

type Config struct {
	Conn conn.Config
	Pool pool.Config
	// Registry maps type annotations to Go types. Nil means marshal.DefaultRegistry.
	Registry *marshal.Registry
}

func DefaultConfig() Config {
	return Config{
		Conn: conn.DefaultConfig(),
		Pool: pool.Config{MaxSize: 8, IdleTimeout: time.Minute},
	}
}

// ConfigFromRPC converts the rpc section of the configuration file.
func ConfigFromRPC(in *config.RPCConfig) (Config, error) {
	c := DefaultConfig()
	if in == nil {
		return c, nil
	}
	if err := copier.Copy(&c.Conn, in); err != nil {
		return c, errors.Wrap(err, "cannot convert rpc config")
	}
	c.Pool.MaxSize = in.MaxPoolSize
	c.Pool.IdleTimeout = in.PoolIdleTimeout
	return c, nil
}
