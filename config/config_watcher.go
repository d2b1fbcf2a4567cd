// Package config pulls hub configuration from a nacos config server and
// follows later changes.
package config

import (
	"context"
	"sync"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/nacos"
	"PPHub/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Source is the part of the nacos config client the watcher uses.
type Source interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// Watcher keeps the latest remote document for one dataId/group.
type Watcher struct {
	src    Source
	dataID string
	group  string

	mu      sync.RWMutex
	current string
}

// NewNacosSource dials the config server named by cfg.Addr ("host:port").
func NewNacosSource(cfg global.NacosConfig) (config_client.IConfigClient, error) {
	return nacos.NewConfigClient(cfg)
}

func NewWatcher(src Source, dataID, group string) *Watcher {
	return &Watcher{src: src, dataID: dataID, group: group}
}

// Fetch reads the document once and remembers it.
func (w *Watcher) Fetch() (string, error) {
	content, err := w.src.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return "", errs.WrapMsg(err, "nacos get config", "dataId", w.dataID, "group", w.group)
	}
	w.set(content)
	return content, nil
}

// Watch calls onChange with every new version of the document until ctx ends.
func (w *Watcher) Watch(ctx context.Context, onChange func(string)) error {
	param := vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("[Nacos] config changed", zap.String("dataId", dataId), zap.String("group", group))
			w.set(data)
			if onChange != nil {
				onChange(data)
			}
		},
	}
	if err := w.src.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.dataID)
	}
	<-ctx.Done()
	if err := w.src.CancelListenConfig(param); err != nil {
		logger.Warn("[Nacos] cancel listen failed", zap.Error(err))
	}
	return nil
}

func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) set(data string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = data
}
