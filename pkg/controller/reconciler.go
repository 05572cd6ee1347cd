// Package controller implements the reconciliation logic: for every resource
// or namespace event it decides which mirrors to create, patch or delete.
//
// One Reconciler is instantiated per mirrored kind. It registers with its own
// kind's watcher directly and with the namespace watcher through the adapter
// returned by NamespaceHandler.
package controller

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kube-reflector/reflector/pkg/annotations"
	"github.com/kube-reflector/reflector/pkg/gateway"
	"github.com/kube-reflector/reflector/pkg/index"
	"github.com/kube-reflector/reflector/pkg/kinds"
	"github.com/kube-reflector/reflector/pkg/metrics"
	"github.com/kube-reflector/reflector/pkg/watcher"
)

// Reconciler reacts to events for one mirrored kind. It is invoked serially
// by its kind's watch consumer; the namespace watcher invokes it from a
// second goroutine, which the index store tolerates.
type Reconciler struct {
	log     logr.Logger
	gateway gateway.Gateway
	kind    kinds.Kind
	store   *index.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ watcher.Handler = (*Reconciler)(nil)

// New builds a Reconciler for kind backed by its own index store.
func New(log logr.Logger, gw gateway.Gateway, kind kinds.Kind, store *index.Store, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		log:     log.WithName("controller").WithValues("kind", kind.Name),
		gateway: gw,
		kind:    kind,
		store:   store,
		metrics: m,
		now:     time.Now,
	}
}

// OnEvent classifies the object as mirror or source and applies the
// corresponding reconciliation rules.
func (r *Reconciler) OnEvent(ctx context.Context, event watcher.Event) {
	obj := event.Object
	qn := types.NamespacedName{Namespace: obj.GetNamespace(), Name: obj.GetName()}
	props := annotations.Parse(r.log, obj.GetAnnotations())

	// An object claiming to reflect itself is not a mirror.
	if props.Reflects != nil && *props.Reflects == qn {
		r.log.Info("ignoring self-targeting reflects annotation", "object", qn.String())
		props.Reflects = nil
	}

	if props.IsMirror() {
		r.onMirror(ctx, event.Type, obj, qn, props)
		return
	}
	r.onSource(ctx, event.Type, obj, qn, props)
}

// OnSessionClosed wipes the resource-derived indices. Namespace knowledge
// survives; it belongs to the namespace session.
func (r *Reconciler) OnSessionClosed() {
	r.log.Info("watch session closed, clearing indices")
	r.store.ClearResources()
}

// onMirror registers the mirror's link to its source and brings its payload
// up to the source's current version.
func (r *Reconciler) onMirror(ctx context.Context, eventType watch.EventType, obj *unstructured.Unstructured, mirror types.NamespacedName, props annotations.Properties) {
	source := *props.Reflects
	log := r.log.WithValues("mirror", mirror.String(), "source", source.String())

	if eventType == watch.Deleted {
		r.store.UnlinkDirect(source, mirror)
		r.store.UnlinkAuto(source, mirror)
		r.store.RemoveProperties(mirror)
		log.V(1).Info("mirror deleted")
		return
	}

	// A mirror may be re-pointed at a different source between events.
	if prev, ok := r.store.Properties(mirror); ok && prev.Properties.Reflects != nil && *prev.Properties.Reflects != source {
		r.store.UnlinkDirect(*prev.Properties.Reflects, mirror)
		r.store.UnlinkAuto(*prev.Properties.Reflects, mirror)
	}

	r.store.RecordProperties(mirror, props, obj.GetResourceVersion())
	if props.AutoReflects {
		r.store.UnlinkDirect(source, mirror)
		r.store.LinkAuto(source, mirror)
	} else {
		r.store.UnlinkAuto(source, mirror)
		r.store.LinkDirect(source, mirror)
	}

	// Skip the lookup when the last observed source version already matches.
	if rec, ok := r.store.Properties(source); ok && rec.ResourceVersion == props.ReflectedVersion {
		return
	}
	if r.store.IsNotFound(source) {
		return
	}

	sourceObj, err := r.gateway.Get(ctx, r.kind, source.Namespace, source.Name)
	if apierrors.IsNotFound(err) {
		if r.store.MarkNotFound(source) {
			log.Info("mirror references a source that does not exist")
		}
		return
	}
	if err != nil {
		log.Error(err, "fetching source failed")
		return
	}
	r.store.ClearNotFound(source)

	sourceProps := annotations.Parse(r.log, sourceObj.GetAnnotations())
	if !permitted(sourceProps, source.Namespace, mirror.Namespace, props.AutoReflects) {
		log.V(1).Info("source does not permit reflection into the mirror namespace")
		return
	}
	if sourceObj.GetResourceVersion() == props.ReflectedVersion {
		return
	}
	r.sync(ctx, sourceObj, source, mirror)
}

// onSource records the source state and fans out to its mirrors: direct
// mirrors are re-synced where permitted, auto-mirrors are created, deleted
// and synced to match the configured namespace set.
func (r *Reconciler) onSource(ctx context.Context, eventType watch.EventType, obj *unstructured.Unstructured, source types.NamespacedName, props annotations.Properties) {
	log := r.log.WithValues("source", source.String())

	if eventType == watch.Deleted {
		for _, mirror := range r.store.AutoMirrors(source) {
			r.deleteAutoMirror(ctx, source, mirror)
		}
		r.store.DropLinks(source)
		r.store.RemoveProperties(source)
		r.store.ClearNotFound(source)
		log.V(1).Info("source deleted")
		return
	}

	r.store.RecordProperties(source, props, obj.GetResourceVersion())
	r.store.ClearNotFound(source)

	for _, mirror := range r.store.DirectMirrors(source) {
		if !props.Allowed || !annotations.PermittedNamespace(source.Namespace, mirror.Namespace, props.AllowedNamespaces) {
			log.V(1).Info("skipping mirror, reflection not permitted", "mirror", mirror.String())
			continue
		}
		if rec, ok := r.store.Properties(mirror); ok && rec.Properties.ReflectedVersion == obj.GetResourceVersion() {
			continue
		}
		r.sync(ctx, obj, source, mirror)
	}

	if !props.Allowed || !props.AutoEnabled {
		for _, mirror := range r.store.AutoMirrors(source) {
			r.deleteAutoMirror(ctx, source, mirror)
		}
		return
	}

	matchers := props.AutoMatchers()
	targets := make(map[string]struct{})
	for _, ns := range r.store.Namespaces() {
		if ns != source.Namespace && annotations.TargetNamespace(ns, matchers) {
			targets[ns] = struct{}{}
		}
	}
	current := r.store.AutoNamespaces(source)

	for ns := range targets {
		if _, ok := current[ns]; !ok {
			r.autoCreate(ctx, obj, source, ns)
		}
	}
	for ns := range current {
		if _, ok := targets[ns]; !ok {
			r.deleteAutoMirror(ctx, source, types.NamespacedName{Namespace: ns, Name: source.Name})
		}
	}
	for ns := range targets {
		if _, ok := current[ns]; !ok {
			continue
		}
		mirror := types.NamespacedName{Namespace: ns, Name: source.Name}
		if rec, ok := r.store.Properties(mirror); ok && rec.Properties.ReflectedVersion == obj.GetResourceVersion() {
			continue
		}
		r.sync(ctx, obj, source, mirror)
	}
}

// permitted decides whether a source allows reflection into a mirror
// namespace. Auto-mirrors are judged against the auto namespace list, direct
// mirrors against the allowed list.
func permitted(sourceProps annotations.Properties, sourceNamespace, mirrorNamespace string, auto bool) bool {
	if !sourceProps.Allowed {
		return false
	}
	if auto {
		return sourceProps.AutoEnabled &&
			annotations.PermittedNamespace(sourceNamespace, mirrorNamespace, sourceProps.AutoMatchers())
	}
	return annotations.PermittedNamespace(sourceNamespace, mirrorNamespace, sourceProps.AllowedNamespaces)
}

// deleteAutoMirror removes an auto-created mirror from the cluster and the
// auto index.
func (r *Reconciler) deleteAutoMirror(ctx context.Context, source, mirror types.NamespacedName) {
	if err := r.gateway.Delete(ctx, r.kind, mirror.Namespace, mirror.Name); err != nil {
		r.log.Error(err, "deleting auto-mirror failed", "source", source.String(), "mirror", mirror.String())
		return
	}
	r.log.Info("deleted auto-mirror", "source", source.String(), "mirror", mirror.String())
	r.store.UnlinkAuto(source, mirror)
	r.store.RemoveProperties(mirror)
}
