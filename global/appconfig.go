package global

import "time"

const (
	BackplaneMemory = "memory"
	BackplaneRedis  = "redis"
	BackplaneNats   = "nats"
	BackplaneKafka  = "kafka"
)

// AppConfig is the whole configuration of both commands. hubchat reads Log
// and Client, hubd reads Log and Server.
type AppConfig struct {
	Log    LogConfig    `json:"log"`
	Client ClientConfig `json:"client"`
	Server ServerConfig `json:"server"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type ClientConfig struct {
	HubURL            string        `json:"hub_url"`            // e.g. wss://host/chatHub
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`  // negotiate + dial + handshake
	SkipNegotiation   bool          `json:"skip_negotiation"`   // dial the WebSocket directly
	KeepAliveInterval time.Duration `json:"keep_alive_interval"` // client ping period
	ServerTimeout     time.Duration `json:"server_timeout"`     // silence before the link is dropped
}

type ServerConfig struct {
	Addr              string        `json:"addr"`      // http + websocket
	GrpcAddr          string        `json:"grpc_addr"` // grpc health, empty disables
	HubPath           string        `json:"hub_path"`
	NodeID            int64         `json:"node_id"`    // snowflake node for connection ids
	SendQueue         int           `json:"send_queue"` // per connection outbound frames
	KeepAliveInterval time.Duration `json:"keep_alive_interval"`
	ClientTimeout     time.Duration `json:"client_timeout"`
	Backplane         string        `json:"backplane"` // memory | redis | nats | kafka
	Channel           string        `json:"channel"`   // redis channel / nats subject / kafka topic
	AllowedOrigins    []string      `json:"allowed_origins"` // browser origins allowed on the hub path, empty allows all

	Redis RedisConfig `json:"redis"`
	Nats  NatsConfig  `json:"nats"`
	Kafka KafkaConfig `json:"kafka"`
	Nacos NacosConfig `json:"nacos"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type NatsConfig struct {
	Servers       []string      `json:"servers"`
	Name          string        `json:"name"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
}

// NacosConfig points hubd at a remote YAML document; an empty Addr disables it.
type NacosConfig struct {
	Addr        string `json:"addr"` // host:port
	NamespaceID string `json:"namespace_id"`
	DataID      string `json:"data_id"`
	Group       string `json:"group"`
	ServiceName string `json:"service_name"` // naming registration, empty disables
	AdvertiseIP string `json:"advertise_ip"` // address registered for this replica
}

// Default returns the configuration used when no file or variable overrides it.
func Default() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info"},
		Client: ClientConfig{
			HubURL:            "http://127.0.0.1:8080/chatHub",
			HandshakeTimeout:  15 * time.Second,
			KeepAliveInterval: 15 * time.Second,
			ServerTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			GrpcAddr:          ":50052",
			HubPath:           "/chatHub",
			NodeID:            1,
			SendQueue:         256,
			KeepAliveInterval: 15 * time.Second,
			ClientTimeout:     30 * time.Second,
			Backplane:         BackplaneMemory,
			Channel:           "pphub.chatHub",
			Redis:             RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 10},
			Nats: NatsConfig{
				Servers:       []string{"nats://127.0.0.1:4222"},
				Name:          "pphub",
				ReconnectWait: 500 * time.Millisecond,
				Timeout:       3 * time.Second,
			},
			Kafka: KafkaConfig{Brokers: []string{"127.0.0.1:9092"}},
			Nacos: NacosConfig{DataID: "pphub.yaml", Group: "DEFAULT_GROUP", AdvertiseIP: "127.0.0.1"},
		},
	}
}
