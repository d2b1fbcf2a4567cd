package chat

import "sync"

type fanoutJob struct {
	conns   []*WsConn
	payload []byte
}

// Fanout copies each broadcast into the send queue of every connection.
// One worker runs the jobs, so every connection sees broadcasts in the
// order they were queued. A connection whose queue is full misses the
// broadcast; onDrop is told about it.
type Fanout struct {
	jobs   chan fanoutJob
	onDrop func(*WsConn)

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewFanout(queue int, onDrop func(*WsConn)) *Fanout {
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{
		jobs:   make(chan fanoutJob, queue),
		onDrop: onDrop,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Fanout) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stopCh:
			return
		case job := <-f.jobs:
			for _, c := range job.conns {
				if !c.Enqueue(job.payload) && f.onDrop != nil {
					f.onDrop(c)
				}
			}
		}
	}
}

// Broadcast queues one job. It blocks while the job queue is full and
// reports false once the fanout is closed.
func (f *Fanout) Broadcast(conns []*WsConn, payload []byte) bool {
	if len(conns) == 0 || len(payload) == 0 {
		return true
	}
	select {
	case <-f.stopCh:
		return false
	default:
	}
	select {
	case f.jobs <- fanoutJob{conns: conns, payload: payload}:
		return true
	case <-f.stopCh:
		return false
	}
}

func (f *Fanout) Close() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.done
}
