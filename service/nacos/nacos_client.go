// Package nacos holds the nacos client plumbing hubd shares between the
// config watcher and the naming registry.
package nacos

import (
	"net"
	"strconv"

	"PPHub/global"
	"PPHub/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// ClientParam builds the client parameters for the server at cfg.Addr ("host:port").
func ClientParam(cfg global.NacosConfig) (vo.NacosClientParam, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return vo.NacosClientParam{}, errs.WrapMsg(err, "nacos addr", "addr", cfg.Addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 64)
	if err != nil {
		return vo.NacosClientParam{}, errs.WrapMsg(err, "nacos port", "addr", cfg.Addr)
	}

	serverConfigs := []constant.ServerConfig{
		*constant.NewServerConfig(host, port),
	}
	clientConfig := constant.NewClientConfig(
		constant.WithNamespaceId(cfg.NamespaceID),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
	)
	return vo.NacosClientParam{
		ClientConfig:  clientConfig,
		ServerConfigs: serverConfigs,
	}, nil
}

func NewConfigClient(cfg global.NacosConfig) (config_client.IConfigClient, error) {
	param, err := ClientParam(cfg)
	if err != nil {
		return nil, err
	}
	c, err := clients.NewConfigClient(param)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "addr", cfg.Addr)
	}
	return c, nil
}

func NewNamingClient(cfg global.NacosConfig) (naming_client.INamingClient, error) {
	param, err := ClientParam(cfg)
	if err != nil {
		return nil, err
	}
	c, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client", "addr", cfg.Addr)
	}
	return c, nil
}
