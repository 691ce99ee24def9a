package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // device uplink
  "listen": "0.0.0.0:7700",
  "delimiter": "\\r\\n",
  "max_frame": 1024,
  "nats": {"url": "nats://127.0.0.1:4222"},
  "redis": {"address": "127.0.0.1:6379", "ttl": "90s"}
}`), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	config.ApplyDefaults()
	require.NoError(t, config.Validate())

	address, err := config.ListenAddress()
	require.NoError(t, err)
	require.Equal(t, uint16(7700), address.Port())
	delimiter, err := config.DelimiterBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("\r\n"), delimiter)
	require.Equal(t, 1024, config.MaxFrame)
	require.Equal(t, DefaultSubject, config.NATS.Subject)
	require.Equal(t, 90*time.Second, config.Redis.TTL.Build())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen": }`), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	config := new(Config)
	config.ApplyDefaults()
	require.NoError(t, config.Validate())
	delimiter, err := config.DelimiterBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("\n"), delimiter)

	for _, broken := range []Config{
		{Listen: "localhost", Delimiter: `\n`},
		{Listen: DefaultListen, Delimiter: `\x`},
		{Listen: DefaultListen, Delimiter: `\n`, MaxFrame: -1},
		{Listen: DefaultListen, Delimiter: `\n`, NATS: &NATSConfig{}},
		{Listen: DefaultListen, Delimiter: `\n`, Redis: &RedisConfig{}},
	} {
		require.Error(t, broken.Validate(), "%+v", broken)
	}
}
