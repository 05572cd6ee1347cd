package controller

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kube-reflector/reflector/pkg/annotations"
	"github.com/kube-reflector/reflector/pkg/watcher"
)

// NamespaceHandler returns the adapter that registers this reconciler with
// the namespace watcher. Losing the namespace session wipes every index,
// because auto-reflection decisions depend on namespace knowledge.
func (r *Reconciler) NamespaceHandler() watcher.Handler {
	return &namespaceHandler{r}
}

type namespaceHandler struct {
	r *Reconciler
}

func (h *namespaceHandler) OnEvent(ctx context.Context, event watcher.Event) {
	name := event.Object.GetName()
	switch event.Type {
	case watch.Added:
		h.r.store.AddNamespace(name)
		h.r.onNamespaceAdded(ctx, name)
	case watch.Deleted:
		h.r.store.RemoveNamespace(name)
		h.r.store.DropAutoNamespace(name)
	}
}

func (h *namespaceHandler) OnSessionClosed() {
	h.r.log.Info("namespace session closed, clearing all indices")
	h.r.store.ClearAll()
}

// onNamespaceAdded creates auto-mirrors in the new namespace for every known
// source whose auto namespace list matches it.
func (r *Reconciler) onNamespaceAdded(ctx context.Context, namespace string) {
	for source, rec := range r.store.Sources() {
		props := rec.Properties
		if !props.Allowed || !props.AutoEnabled {
			continue
		}
		if source.Namespace == namespace {
			continue
		}
		if !annotations.TargetNamespace(namespace, props.AutoMatchers()) {
			continue
		}
		if _, ok := r.store.AutoNamespaces(source)[namespace]; ok {
			continue
		}
		obj, err := r.gateway.Get(ctx, r.kind, source.Namespace, source.Name)
		if apierrors.IsNotFound(err) {
			r.log.V(1).Info("source vanished before auto-create", "source", source.String())
			continue
		}
		if err != nil {
			r.log.Error(err, "fetching source for auto-create failed", "source", source.String())
			continue
		}
		r.autoCreate(ctx, obj, source, namespace)
	}
}
