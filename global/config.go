package global

import (
	"os"
	"path/filepath"
	"strings"

	"PPHub/tools"
	"PPHub/tools/decode"
	"PPHub/tools/errs"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// envKeys maps PPHUB_* variables onto config paths. List values are comma separated.
var envKeys = []struct {
	env  string
	path []string
	list bool
}{
	{env: "PPHUB_LOG_LEVEL", path: []string{"log", "level"}},

	{env: "PPHUB_HUB_URL", path: []string{"client", "hub_url"}},
	{env: "PPHUB_HANDSHAKE_TIMEOUT", path: []string{"client", "handshake_timeout"}},
	{env: "PPHUB_SKIP_NEGOTIATION", path: []string{"client", "skip_negotiation"}},
	{env: "PPHUB_KEEP_ALIVE_INTERVAL", path: []string{"client", "keep_alive_interval"}},
	{env: "PPHUB_SERVER_TIMEOUT", path: []string{"client", "server_timeout"}},

	{env: "PPHUB_SERVER_ADDR", path: []string{"server", "addr"}},
	{env: "PPHUB_SERVER_GRPC_ADDR", path: []string{"server", "grpc_addr"}},
	{env: "PPHUB_SERVER_HUB_PATH", path: []string{"server", "hub_path"}},
	{env: "PPHUB_SERVER_NODE_ID", path: []string{"server", "node_id"}},
	{env: "PPHUB_SERVER_BACKPLANE", path: []string{"server", "backplane"}},
	{env: "PPHUB_SERVER_CHANNEL", path: []string{"server", "channel"}},
	{env: "PPHUB_SERVER_ALLOWED_ORIGINS", path: []string{"server", "allowed_origins"}, list: true},
	{env: "PPHUB_SERVER_REDIS_ADDR", path: []string{"server", "redis", "addr"}},
	{env: "PPHUB_SERVER_REDIS_PASSWORD", path: []string{"server", "redis", "password"}},
	{env: "PPHUB_SERVER_REDIS_DB", path: []string{"server", "redis", "db"}},
	{env: "PPHUB_SERVER_NATS_SERVERS", path: []string{"server", "nats", "servers"}, list: true},
	{env: "PPHUB_SERVER_KAFKA_BROKERS", path: []string{"server", "kafka", "brokers"}, list: true},
	{env: "PPHUB_SERVER_NACOS_ADDR", path: []string{"server", "nacos", "addr"}},
	{env: "PPHUB_SERVER_NACOS_NAMESPACE", path: []string{"server", "nacos", "namespace_id"}},
	{env: "PPHUB_SERVER_NACOS_DATA_ID", path: []string{"server", "nacos", "data_id"}},
	{env: "PPHUB_SERVER_NACOS_GROUP", path: []string{"server", "nacos", "group"}},
	{env: "PPHUB_SERVER_NACOS_SERVICE_NAME", path: []string{"server", "nacos", "service_name"}},
	{env: "PPHUB_SERVER_NACOS_ADVERTISE_IP", path: []string{"server", "nacos", "advertise_ip"}},
}

// Load builds the configuration from the defaults, then the file at path
// (YAML or TOML by extension, skipped when path is empty), then PPHUB_*
// variables.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		m, err := parseDocument(path, data)
		if err != nil {
			return nil, err
		}
		if err := decode.DecodeInto(m, &cfg); err != nil {
			return nil, errs.WrapMsg(err, "decode config", "path", path)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MergeYAML overlays a YAML document, such as one fetched from nacos, onto cfg.
func MergeYAML(cfg *AppConfig, doc string) error {
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	m, err := parseDocument("remote.yaml", []byte(doc))
	if err != nil {
		return err
	}
	if err := decode.DecodeInto(m, cfg); err != nil {
		return errs.WrapMsg(err, "decode remote config")
	}
	return cfg.Validate()
}

// ApplyEnv overlays the PPHUB_* variables that are set onto cfg.
func ApplyEnv(cfg *AppConfig) error {
	m := map[string]any{}
	for _, k := range envKeys {
		v, ok := tools.LookupEnv(k.env)
		if !ok {
			continue
		}
		if k.list {
			setPath(m, k.path, tools.GetEnvList(k.env, nil))
		} else {
			setPath(m, k.path, strings.TrimSpace(v))
		}
	}
	if len(m) == 0 {
		return nil
	}
	if err := decode.DecodeInto(m, cfg); err != nil {
		return errs.WrapMsg(err, "decode env")
	}
	return nil
}

func (c *AppConfig) Validate() error {
	switch c.Server.Backplane {
	case BackplaneMemory, BackplaneRedis, BackplaneNats, BackplaneKafka:
	default:
		return errs.New("unknown backplane", "backplane", c.Server.Backplane)
	}
	if c.Client.HandshakeTimeout <= 0 {
		return errs.New("handshake_timeout must be positive")
	}
	if c.Client.KeepAliveInterval <= 0 || c.Client.ServerTimeout <= c.Client.KeepAliveInterval {
		return errs.New("server_timeout must exceed keep_alive_interval",
			"keep_alive_interval", c.Client.KeepAliveInterval, "server_timeout", c.Client.ServerTimeout)
	}
	if !strings.HasPrefix(c.Server.HubPath, "/") {
		return errs.New("hub_path must start with /", "hub_path", c.Server.HubPath)
	}
	return nil
}

func parseDocument(path string, data []byte) (map[string]any, error) {
	m := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, errs.WrapMsg(err, "parse toml", "path", path)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errs.WrapMsg(err, "parse yaml", "path", path)
		}
	default:
		return nil, errs.New("unsupported config format", "path", path)
	}
	return m, nil
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
