package chat

import (
	"sync"
	"time"

	"PPHub/tools/errs"
	"PPHub/tools/ids"
)

// ===== 配置 =====

type ManagerConf struct {
	ClientTimeout time.Duration    // 连接多久没有任何入站帧就判定失联（如 30s）
	TokenTTL      time.Duration    // negotiate 发出的 token 等待 WebSocket 的时长（如 60s）
	SweepEvery    time.Duration    // 清理周期（如 5s）
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
	NewID         func() string    // 跳过 negotiate 的连接用它生成 id
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 30 * time.Second
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 60 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
}

type pendingToken struct {
	snowID   string
	expireAt time.Time
}

// ConnManager 持有本节点所有连接：snowID -> WsConn，另外记住 negotiate 发出、
// 还没连上来的 token。
type ConnManager struct {
	mu      sync.RWMutex
	bySnow  map[string]*WsConn
	pending map[string]pendingToken // token -> snowID

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow:  make(map[string]*WsConn),
		pending: make(map[string]pendingToken),
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Close 停止清理协程并让所有连接下线
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	conns := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		conns = append(conns, w)
	}
	m.bySnow = map[string]*WsConn{}
	m.pending = map[string]pendingToken{}
	m.mu.Unlock()

	for _, w := range conns {
		w.Shutdown()
	}
}

// Reserve 记录 negotiate 发出的 token
func (m *ConnManager) Reserve(token, snowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[token] = pendingToken{snowID: snowID, expireAt: m.conf.Clock().Add(m.conf.TokenTTL)}
}

// Claim 兑换 token；token 为空（跳过 negotiate）时直接分配新 id。
// 未知或过期的 token 返回 false。
func (m *ConnManager) Claim(token string) (string, bool) {
	if token == "" {
		if m.conf.NewID == nil {
			return genSnowID(), true
		}
		return m.conf.NewID(), true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[token]
	if !ok {
		return "", false
	}
	delete(m.pending, token)
	if m.conf.Clock().After(p.expireAt) {
		return "", false
	}
	return p.snowID, true
}

// Add 登记一条已完成握手的连接
func (m *ConnManager) Add(w *WsConn) error {
	if w == nil || w.SnowID == "" {
		return errs.New("snowID empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[w.SnowID]; exists {
		return errs.New("snowID exists", "snowID", w.SnowID)
	}
	m.bySnow[w.SnowID] = w
	return nil
}

func (m *ConnManager) Get(snowID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	return w, ok
}

// Heartbeat 刷新心跳与到期时间
func (m *ConnManager) Heartbeat(snowID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySnow[snowID]
	if !ok {
		return errs.New("snowID not found", "snowID", snowID)
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.ClientTimeout)
	return nil
}

// RemoveBySnow 移除并关闭指定连接，返回是否确实移除
func (m *ConnManager) RemoveBySnow(snowID string) bool {
	m.mu.Lock()
	w, ok := m.bySnow[snowID]
	if ok {
		delete(m.bySnow, snowID)
	}
	m.mu.Unlock()
	if ok {
		w.Shutdown()
	}
	return ok
}

// Remove 只在索引里仍是 w 时移除，并关闭 w
func (m *ConnManager) Remove(w *WsConn) bool {
	m.mu.Lock()
	cur, ok := m.bySnow[w.SnowID]
	if ok && cur == w {
		delete(m.bySnow, w.SnowID)
	}
	m.mu.Unlock()
	w.Shutdown()
	return ok && cur == w
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Snapshot 当前所有连接（无序）
func (m *ConnManager) Snapshot() []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		out = append(out, w)
	}
	return out
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce 清理失联连接和过期 token，返回清掉的连接数
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn

	m.mu.Lock()
	for sid, w := range m.bySnow {
		if now.After(w.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, w)
			delete(m.bySnow, sid)
		}
	}
	for token, p := range m.pending {
		if now.After(p.expireAt) {
			delete(m.pending, token)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		w.Shutdown()
	}
	return len(expired)
}

func (m *ConnManager) pendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func genSnowID() string {
	return ids.GenerateString()
}
