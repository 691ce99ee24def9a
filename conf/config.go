package conf

import (
	"net/netip"
	"os"
	"strconv"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/json"
	"github.com/sagernet/sing-tcpstream/common/json/badoption"
)

const (
	DefaultListen    = "127.0.0.1:7000"
	DefaultDelimiter = `\n`
	DefaultSubject   = "tcpstream"
)

type Config struct {
	Listen    string       `json:"listen,omitempty"`
	Delimiter string       `json:"delimiter,omitempty"`
	MaxFrame  int          `json:"max_frame,omitempty"`
	Echo      bool         `json:"echo,omitempty"`
	LogLevel  string       `json:"log_level,omitempty"`
	NATS      *NATSConfig  `json:"nats,omitempty"`
	Redis     *RedisConfig `json:"redis,omitempty"`
}

type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject,omitempty"`
}

type RedisConfig struct {
	Address  string             `json:"address"`
	Password string             `json:"password,omitempty"`
	DB       int                `json:"db,omitempty"`
	Prefix   string             `json:"prefix,omitempty"`
	TTL      badoption.Duration `json:"ttl,omitempty"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, E.Cause(err, "read config file")
	}
	config, err := json.UnmarshalExtended[Config](content)
	if err != nil {
		return nil, E.Cause(err, "decode config file")
	}
	return &config, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.NATS != nil && c.NATS.Subject == "" {
		c.NATS.Subject = DefaultSubject
	}
}

func (c *Config) Validate() error {
	if _, err := c.ListenAddress(); err != nil {
		return err
	}
	if _, err := c.DelimiterBytes(); err != nil {
		return err
	}
	if c.MaxFrame < 0 {
		return E.New("max_frame must not be negative")
	}
	if c.NATS != nil && c.NATS.URL == "" {
		return E.New("missing nats url")
	}
	if c.Redis != nil && c.Redis.Address == "" {
		return E.New("missing redis address")
	}
	return nil
}

func (c *Config) ListenAddress() (netip.AddrPort, error) {
	address, err := netip.ParseAddrPort(c.Listen)
	if err != nil {
		return netip.AddrPort{}, E.Cause(err, "parse listen address")
	}
	return address, nil
}

// DelimiterBytes decodes the delimiter as the body of a Go string literal, so `\r\n`
// means CR LF.
func (c *Config) DelimiterBytes() ([]byte, error) {
	delimiter, err := strconv.Unquote(`"` + c.Delimiter + `"`)
	if err != nil {
		return nil, E.Cause(err, "parse delimiter ", strconv.Quote(c.Delimiter))
	}
	if delimiter == "" {
		return nil, E.New("empty delimiter")
	}
	return []byte(delimiter), nil
}
