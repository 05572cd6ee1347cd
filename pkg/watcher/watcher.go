// Package watcher maintains a long-lived watch on a single kind and fans the
// event stream out to registered handlers.
//
// The stream is delivered through repeated sessions. Each session lists the
// kind, replays the listed objects as Added events so handlers rediscover
// state, then watches from the list's resourceVersion until the watch ends
// or the session times out. Between sessions the watcher backs off
// exponentially and handlers are told to drop derived state.
package watcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kube-reflector/reflector/pkg/gateway"
	"github.com/kube-reflector/reflector/pkg/kinds"
	"github.com/kube-reflector/reflector/pkg/metrics"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// Event is a single observation delivered to handlers.
type Event struct {
	// Type is Added, Modified or Deleted.
	Type watch.EventType
	// Object is the observed object state. For Deleted events it is the
	// last known state.
	Object *unstructured.Unstructured
}

// Handler consumes events from a watcher. Handlers are invoked serially, in
// registration order, from a single goroutine per watcher.
type Handler interface {
	// OnEvent processes one event. Failures are the handler's to log;
	// they never end the session.
	OnEvent(ctx context.Context, event Event)
	// OnSessionClosed is called after a session ends and its queue is
	// drained. Handlers must drop all state derived from the session.
	OnSessionClosed()
}

// Watcher owns the watch loop for one kind.
type Watcher struct {
	log            logr.Logger
	gateway        gateway.Gateway
	kind           kinds.Kind
	metrics        *metrics.Metrics
	queueCapacity  int
	sessionTimeout time.Duration
	handlers       []Handler
}

// New builds a Watcher. Handlers are registered with Register before Run.
func New(log logr.Logger, gw gateway.Gateway, kind kinds.Kind, m *metrics.Metrics, queueCapacity int, sessionTimeout time.Duration) *Watcher {
	return &Watcher{
		log:            log.WithName("watcher").WithValues("kind", kind.Name),
		gateway:        gw,
		kind:           kind,
		metrics:        m,
		queueCapacity:  queueCapacity,
		sessionTimeout: sessionTimeout,
	}
}

// Register appends a handler. Must be called before Run.
func (w *Watcher) Register(h Handler) {
	w.handlers = append(w.handlers, h)
}

// Run drives sessions until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		listed := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if listed {
			backoff = backoffInitial
		}
		w.log.V(1).Info("session ended, restarting", "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if !listed {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}
}

// session runs one list+watch cycle. It reports whether the initial list
// succeeded, which is what resets the restart backoff.
func (w *Watcher) session(ctx context.Context) bool {
	sctx, cancel := context.WithTimeout(ctx, w.sessionTimeout)
	defer cancel()

	w.metrics.SessionsStarted.WithLabelValues(w.kind.Name).Inc()
	defer func() {
		w.metrics.SessionsClosed.WithLabelValues(w.kind.Name).Inc()
		for _, h := range w.handlers {
			h.OnSessionClosed()
		}
	}()

	items, resourceVersion, err := w.gateway.List(sctx, w.kind)
	if err != nil {
		w.log.Error(err, "list failed")
		return false
	}

	stream, err := w.gateway.Watch(sctx, w.kind, resourceVersion)
	if err != nil {
		w.log.Error(err, "watch failed", "resourceVersion", resourceVersion)
		return true
	}
	defer stream.Stop()

	w.log.Info("session started", "objects", len(items), "resourceVersion", resourceVersion)

	queue := make(chan Event, w.queueCapacity)
	done := make(chan struct{})
	go w.consume(sctx, queue, done)

	w.produce(sctx, items, stream, queue)
	close(queue)
	<-done
	return true
}

// produce replays the listed objects as Added events, then forwards watch
// events until the stream ends. Sends block when the queue is full.
func (w *Watcher) produce(ctx context.Context, items []unstructured.Unstructured, stream watch.Interface, queue chan<- Event) {
	for i := range items {
		obj := &items[i]
		if !w.enqueue(ctx, queue, Event{Type: watch.Added, Object: obj}) {
			return
		}
	}
	for {
		select {
		case event, ok := <-stream.ResultChan():
			if !ok {
				w.log.V(1).Info("watch channel closed")
				return
			}
			switch event.Type {
			case watch.Added, watch.Modified, watch.Deleted:
				obj, ok := event.Object.(*unstructured.Unstructured)
				if !ok {
					w.log.Info("dropping event with unexpected object type", "type", fmt.Sprintf("%T", event.Object))
					continue
				}
				if !w.enqueue(ctx, queue, Event{Type: event.Type, Object: obj}) {
					return
				}
			case watch.Error:
				w.log.Info("watch reported an error, ending session", "object", event.Object)
				return
			default:
				// Bookmarks carry no object state.
			}
		case <-ctx.Done():
			return
		}
	}
}

// enqueue filters and queues one event. It reports false when the session
// context ended before the event could be queued.
func (w *Watcher) enqueue(ctx context.Context, queue chan<- Event, event Event) bool {
	if w.kind.Skip(event.Object) {
		return true
	}
	select {
	case queue <- event:
		w.metrics.QueueDepth.WithLabelValues(w.kind.Name).Set(float64(len(queue)))
		return true
	case <-ctx.Done():
		return false
	}
}

// consume drains the queue, dispatching each event to every handler in
// registration order. The queue is fully drained even after ctx ends so the
// producer is never blocked on a full channel.
func (w *Watcher) consume(ctx context.Context, queue <-chan Event, done chan<- struct{}) {
	defer close(done)
	for event := range queue {
		w.metrics.QueueDepth.WithLabelValues(w.kind.Name).Set(float64(len(queue)))
		w.metrics.EventsReceived.WithLabelValues(w.kind.Name, string(event.Type)).Inc()
		for _, h := range w.handlers {
			w.dispatch(ctx, h, event)
		}
	}
}

// dispatch invokes one handler, containing panics so a broken handler cannot
// take the session down.
func (w *Watcher) dispatch(ctx context.Context, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error(fmt.Errorf("handler panic: %v", r), "handler panicked",
				"event", string(event.Type),
				"namespace", event.Object.GetNamespace(),
				"name", event.Object.GetName(),
				"stack", string(debug.Stack()))
		}
	}()
	h.OnEvent(ctx, event)
}
