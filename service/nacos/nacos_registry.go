package nacos

import (
	"strconv"
	"sync"

	"PPHub/logger"
	"PPHub/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

const (
	DefaultGroup   = "DEFAULT_GROUP"
	DefaultCluster = "DEFAULT"
)

// Naming is the part of the nacos naming client the registry uses.
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
	SelectInstances(param vo.SelectInstancesParam) ([]model.Instance, error)
}

// Instance is one hub replica as seen by the registry.
type Instance struct {
	IP      string
	Port    uint64
	NodeID  int64
	HubPath string
}

// Registry announces this hub replica under ServiceName so that a load
// balancer can find every replica sharing the backplane.
type Registry struct {
	ServiceName string
	Group       string

	client Naming
	log    *zap.Logger

	mu         sync.Mutex
	registered *Instance
}

func NewRegistry(client Naming, serviceName, group string) *Registry {
	if group == "" {
		group = DefaultGroup
	}
	return &Registry{
		ServiceName: serviceName,
		Group:       group,
		client:      client,
		log:         logger.Named("nacos"),
	}
}

// Register 注册实例；重复调用会先注销上一次的实例
func (r *Registry) Register(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered != nil {
		r.deregisterLocked()
	}

	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          inst.IP,
		Port:        inst.Port,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: DefaultCluster,
		Ephemeral:   true,
		Metadata: map[string]string{
			"protocol": "signalr",
			"node":     strconv.FormatInt(inst.NodeID, 10),
			"hub_path": inst.HubPath,
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName)
	}
	if !ok {
		return errs.New("nacos register returned false", "service", r.ServiceName)
	}
	r.registered = &inst
	r.log.Info("[Nacos] registered",
		zap.String("service", r.ServiceName), zap.String("ip", inst.IP), zap.Uint64("port", inst.Port))
	return nil
}

// Deregister 注销当前实例，未注册时什么也不做
func (r *Registry) Deregister() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterLocked()
}

func (r *Registry) deregisterLocked() {
	if r.registered == nil {
		return
	}
	inst := *r.registered
	r.registered = nil
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          inst.IP,
		Port:        inst.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     DefaultCluster,
		Ephemeral:   true,
	})
	if err != nil || !ok {
		r.log.Warn("[Nacos] deregister failed", zap.String("service", r.ServiceName), zap.Error(err))
	}
}

// Instances lists the healthy replicas currently registered.
func (r *Registry) Instances() ([]Instance, error) {
	list, err := r.client.SelectInstances(vo.SelectInstancesParam{
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		HealthyOnly: true,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "nacos select instances", "service", r.ServiceName)
	}
	out := make([]Instance, 0, len(list))
	for _, in := range list {
		node, _ := strconv.ParseInt(in.Metadata["node"], 10, 64)
		out = append(out, Instance{IP: in.Ip, Port: in.Port, NodeID: node, HubPath: in.Metadata["hub_path"]})
	}
	return out, nil
}
