package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/zrepl/yaml-config"
)

type Config struct {
	Global  *Global      `yaml:"global,optional,fromdefaults"`
	RPC     *RPCConfig   `yaml:"rpc,optional,fromdefaults"`
	Serve   *ServeEnum   `yaml:"serve,optional"`
	Connect *ConnectEnum `yaml:"connect,optional"`
}

type LoggingOutletEnumList []LoggingOutletEnum

func (l *LoggingOutletEnumList) SetDefault() {
	def := `
type: "stdout"
time: true
level: "warn"
format: "human"
`
	s := &StdoutLoggingOutlet{}
	err := yaml.UnmarshalStrict([]byte(def), s)
	if err != nil {
		panic(err)
	}
	*l = []LoggingOutletEnum{{Ret: s}}
}

var _ yaml.Defaulter = &LoggingOutletEnumList{}

type Global struct {
	Logging    *LoggingOutletEnumList `yaml:"logging,optional,fromdefaults"`
	Monitoring []MonitoringEnum       `yaml:"monitoring,optional"`
}

func Default(i interface{}) {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		panic(v)
	}
	y := `{}`
	err := yaml.Unmarshal([]byte(y), v.Interface())
	if err != nil {
		panic(err)
	}
}

// RPCConfig holds the tuning knobs of connections, invocations and pools.
type RPCConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout,optional,positive,default=10s"`
	CallTimeout       time.Duration `yaml:"call_timeout,optional,positive,default=30s"`
	MaxPoolSize       int           `yaml:"max_pool_size,optional,default=8"`
	PoolIdleTimeout   time.Duration `yaml:"pool_idle_timeout,optional,positive,default=60s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,optional,positive,default=5s"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout,optional,positive,default=30s"`
	// Also send a Cancel to the peer if an invocation times out.
	CancelOnTimeout bool     `yaml:"cancel_on_timeout,optional,default=true"`
	RxFrameMax      uint32   `yaml:"rx_frame_max,optional,default=16777216"`
	Capabilities    []string `yaml:"capabilities,optional"`
}

type ConnectEnum struct {
	Ret interface{}
}

type ConnectCommon struct {
	Type        string        `yaml:"type"`
	DialTimeout time.Duration `yaml:"dial_timeout,optional,positive,default=10s"`
}

type TCPConnect struct {
	ConnectCommon `yaml:",inline"`
}

type TLSConnect struct {
	ConnectCommon `yaml:",inline"`
	Ca            string `yaml:"ca"`
	Cert          string `yaml:"cert"`
	Key           string `yaml:"key"`
	ServerCN      string `yaml:"server_cn"`
}

type ServeEnum struct {
	Ret interface{}
}

type ServeCommon struct {
	Type   string `yaml:"type"`
	Listen string `yaml:"listen"`
	// Endpoint written into stubs of objects exported by this process.
	// Defaults to the listener address.
	Advertise      string `yaml:"advertise,optional"`
	ListenFreeBind bool   `yaml:"listen_freebind,optional,default=false"`
	// Maximum number of concurrently accepted connections, 0 means unlimited.
	MaxConns int `yaml:"max_conns,optional,default=0"`
}

type TCPServe struct {
	ServeCommon `yaml:",inline"`
}

type TLSServe struct {
	ServeCommon      `yaml:",inline"`
	Ca               string        `yaml:"ca"`
	Cert             string        `yaml:"cert"`
	Key              string        `yaml:"key"`
	ClientCNs        []string      `yaml:"client_cns"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,optional,positive,default=10s"`
}

type LoggingOutletEnum struct {
	Ret interface{}
}

type LoggingOutletCommon struct {
	Type   string `yaml:"type"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StdoutLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Time                bool `yaml:"time,optional,default=true"`
	Color               bool `yaml:"color,optional,default=true"`
}

type TCPLoggingOutlet struct {
	LoggingOutletCommon `yaml:",inline"`
	Address             string               `yaml:"address"`
	Net                 string               `yaml:"net,optional,default=tcp"`
	RetryInterval       time.Duration        `yaml:"retry_interval,optional,positive,default=10s"`
	TLS                 *TCPLoggingOutletTLS `yaml:"tls,optional"`
}

type TCPLoggingOutletTLS struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type MonitoringEnum struct {
	Ret interface{}
}

type PrometheusMonitoring struct {
	Type   string `yaml:"type"`
	Listen string `yaml:"listen"`
}

func enumUnmarshal(u func(interface{}, bool) error, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string
	}
	if err := u(&in, true); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &yaml.TypeError{Errors: []string{"must specify type"}}
	}

	v, ok := types[in.Type]
	if !ok {
		return nil, &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid type name %q", in.Type)}}
	}
	if err := u(v, false); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *ConnectEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"tcp": &TCPConnect{},
		"tls": &TLSConnect{},
	})
	return
}

func (t *ServeEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"tcp": &TCPServe{},
		"tls": &TLSServe{},
	})
	return
}

func (t *LoggingOutletEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"stdout": &StdoutLoggingOutlet{},
		"tcp":    &TCPLoggingOutlet{},
	})
	return
}

func (t *MonitoringEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"prometheus": &PrometheusMonitoring{},
	})
	return
}

// Common returns the fields shared by all serve types.
func (t *ServeEnum) Common() *ServeCommon {
	switch v := t.Ret.(type) {
	case *TCPServe:
		return &v.ServeCommon
	case *TLSServe:
		return &v.ServeCommon
	default:
		panic(fmt.Sprintf("implementation error: unknown serve type %T", v))
	}
}

var ConfigFileDefaultLocations = []string{
	"/etc/asyncrmi/asyncrmi.yml",
	"/usr/local/etc/asyncrmi/asyncrmi.yml",
}

func ParseConfig(path string) (i *Config, err error) {

	if path == "" {
		// Try default locations
		for _, l := range ConfigFileDefaultLocations {
			stat, statErr := os.Stat(l)
			if statErr != nil {
				continue
			}
			if !stat.Mode().IsRegular() {
				err = errors.Errorf("file at default location is not a regular file: %s", l)
				return
			}
			path = l
			break
		}
	}
	if path == "" {
		return nil, errors.Errorf("no config file found at default locations %q", ConfigFileDefaultLocations)
	}

	var bytes []byte

	if bytes, err = os.ReadFile(path); err != nil {
		return
	}

	return ParseConfigBytes(bytes)
}

func ParseConfigBytes(bytes []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("config is empty or only consists of comments")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks constraints the yaml tags cannot express.
func (c *Config) Validate() error {
	if c.RPC != nil {
		if c.RPC.MaxPoolSize <= 0 {
			return errors.Errorf("rpc.max_pool_size must be positive, got %d", c.RPC.MaxPoolSize)
		}
		if c.RPC.RxFrameMax == 0 {
			return errors.New("rpc.rx_frame_max must be positive")
		}
		if c.RPC.HeartbeatInterval >= c.RPC.HeartbeatTimeout {
			return errors.Errorf("rpc.heartbeat_interval (%s) must be shorter than rpc.heartbeat_timeout (%s)",
				c.RPC.HeartbeatInterval, c.RPC.HeartbeatTimeout)
		}
	}
	if c.Serve != nil {
		common := c.Serve.Common()
		if common.Listen == "" {
			return errors.New("serve.listen must be specified")
		}
		if common.MaxConns < 0 {
			return errors.Errorf("serve.max_conns must not be negative, got %d", common.MaxConns)
		}
	}
	return nil
}
