package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kube-reflector/reflector/pkg/gateway"
	"github.com/kube-reflector/reflector/pkg/kinds"
	"github.com/kube-reflector/reflector/pkg/metrics"
)

func secret(namespace, name, secretType string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   map[string]interface{}{"namespace": namespace, "name": name},
		"type":       secretType,
	}}
}

// fakeGateway serves one successful session and fails every later list, so
// tests observe a single deterministic replay.
type fakeGateway struct {
	mu     sync.Mutex
	items  []unstructured.Unstructured
	stream *watch.FakeWatcher
	lists  int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) List(_ context.Context, _ kinds.Kind) ([]unstructured.Unstructured, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.lists > 1 {
		return nil, "", errors.New("listing disabled after first session")
	}
	return f.items, "1", nil
}

func (f *fakeGateway) Watch(_ context.Context, _ kinds.Kind, _ string) (watch.Interface, error) {
	return f.stream, nil
}

func (f *fakeGateway) Get(_ context.Context, _ kinds.Kind, _, _ string) (*unstructured.Unstructured, error) {
	return nil, errors.New("not supported")
}

func (f *fakeGateway) Patch(_ context.Context, _ kinds.Kind, _, _ string, _ []byte) (*unstructured.Unstructured, error) {
	return nil, errors.New("not supported")
}

func (f *fakeGateway) Create(_ context.Context, _ kinds.Kind, _ *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return nil, errors.New("not supported")
}

func (f *fakeGateway) Delete(_ context.Context, _ kinds.Kind, _, _ string) error {
	return errors.New("not supported")
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	closed chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{}, 8)}
}

func (h *recordingHandler) OnEvent(_ context.Context, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) OnSessionClosed() {
	h.closed <- struct{}{}
}

func (h *recordingHandler) recorded() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func waitClosed(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session close")
	}
}

func newTestWatcher(gw gateway.Gateway, kind kinds.Kind) *Watcher {
	m := metrics.New(prometheus.NewRegistry())
	return New(logr.Discard(), gw, kind, m, 16, time.Hour)
}

func TestWatcher_ReplaysListThenStreams(t *testing.T) {
	gw := &fakeGateway{
		items: []unstructured.Unstructured{
			*secret("ns-src", "s1", "Opaque"),
			*secret("ns-src", "s2", "Opaque"),
		},
		stream: watch.NewFake(),
	}
	w := newTestWatcher(gw, kinds.Secret)
	handler := newRecordingHandler()
	w.Register(handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	gw.stream.Modify(secret("ns-src", "s1", "Opaque"))
	gw.stream.Stop()
	waitClosed(t, handler)
	cancel()
	<-done

	events := handler.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, watch.Added, events[0].Type)
	assert.Equal(t, "s1", events[0].Object.GetName())
	assert.Equal(t, watch.Added, events[1].Type)
	assert.Equal(t, "s2", events[1].Object.GetName())
	assert.Equal(t, watch.Modified, events[2].Type)
}

func TestWatcher_FiltersHelmSecrets(t *testing.T) {
	gw := &fakeGateway{
		items: []unstructured.Unstructured{
			*secret("ns-src", "app", "Opaque"),
			*secret("ns-src", "sh.helm.release.v1.demo", "helm.sh/release.v1"),
		},
		stream: watch.NewFake(),
	}
	w := newTestWatcher(gw, kinds.Secret)
	handler := newRecordingHandler()
	w.Register(handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	gw.stream.Add(secret("ns-src", "sh.helm.release.v1.other", "helm.sh/release.v1"))
	gw.stream.Stop()
	waitClosed(t, handler)
	cancel()
	<-done

	events := handler.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "app", events[0].Object.GetName())
}

type panickyHandler struct{}

func (h *panickyHandler) OnEvent(_ context.Context, _ Event) {
	panic("boom")
}

func (h *panickyHandler) OnSessionClosed() {}

func TestWatcher_HandlerPanicDoesNotAbortSession(t *testing.T) {
	gw := &fakeGateway{
		items:  []unstructured.Unstructured{*secret("ns-src", "s1", "Opaque")},
		stream: watch.NewFake(),
	}
	w := newTestWatcher(gw, kinds.Secret)
	w.Register(&panickyHandler{})
	handler := newRecordingHandler()
	w.Register(handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	gw.stream.Modify(secret("ns-src", "s1", "Opaque"))
	gw.stream.Stop()
	waitClosed(t, handler)
	cancel()
	<-done

	assert.Len(t, handler.recorded(), 2, "events still reach later handlers")
}

func TestWatcher_SessionTimeoutClosesSession(t *testing.T) {
	gw := &fakeGateway{stream: watch.NewFake()}
	m := metrics.New(prometheus.NewRegistry())
	w := New(logr.Discard(), gw, kinds.Secret, m, 16, 50*time.Millisecond)
	handler := newRecordingHandler()
	w.Register(handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	waitClosed(t, handler)
	cancel()
	<-done
	assert.Empty(t, handler.recorded())
}
