package controller

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"

	"github.com/kube-reflector/reflector/pkg/annotations"
	"github.com/kube-reflector/reflector/pkg/constants"
	"github.com/kube-reflector/reflector/pkg/kinds"
)

// patchOperation is a single RFC 6902 operation. Value is always emitted:
// an "add" on an existing member replaces it, and a null value clears a
// payload field the source no longer carries.
type patchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// pointerEscaper rewrites annotation keys for use in JSON pointers.
var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func annotationPath(key string) string {
	return "/metadata/annotations/" + pointerEscaper.Replace(key)
}

// buildSyncPatch produces the patch that copies the source payload onto a
// mirror and stamps the bookkeeping annotations. It touches nothing else, so
// labels, owner references and foreign annotations on the mirror survive.
// Immutable fields such as a secret's type are never patched.
func buildSyncPatch(kind kinds.Kind, source *unstructured.Unstructured, now time.Time) []patchOperation {
	ops := make([]patchOperation, 0, len(kind.PayloadFields)+2)
	for _, field := range kind.PayloadFields {
		value, ok, _ := unstructured.NestedFieldNoCopy(source.Object, field)
		if !ok {
			value = nil
		}
		ops = append(ops, patchOperation{Op: "add", Path: "/" + field, Value: value})
	}
	return append(ops,
		patchOperation{Op: "add", Path: annotationPath(constants.AnnotationReflectedVersion), Value: source.GetResourceVersion()},
		patchOperation{Op: "add", Path: annotationPath(constants.AnnotationReflectedAt), Value: now.UTC().Format(time.RFC3339)},
	)
}

// sync patches the mirror to the source's current payload and version.
// Failures never propagate: a vanished mirror is unlinked, a conflict is
// left for the next event to reconcile.
func (r *Reconciler) sync(ctx context.Context, source *unstructured.Unstructured, sourceQN, mirrorQN types.NamespacedName) {
	log := r.log.WithValues("source", sourceQN.String(), "mirror", mirrorQN.String())

	patch, err := json.Marshal(buildSyncPatch(r.kind, source, r.now()))
	if err != nil {
		log.Error(err, "building sync patch failed")
		return
	}

	updated, err := r.gateway.Patch(ctx, r.kind, mirrorQN.Namespace, mirrorQN.Name, patch)
	switch {
	case err == nil:
		r.metrics.Syncs.WithLabelValues(r.kind.Name, "success").Inc()
		log.Info("synced mirror", "version", source.GetResourceVersion())
		props := annotations.Parse(r.log, updated.GetAnnotations())
		r.store.RecordProperties(mirrorQN, props, updated.GetResourceVersion())
	case apierrors.IsNotFound(err):
		r.metrics.Syncs.WithLabelValues(r.kind.Name, "missing").Inc()
		log.V(1).Info("mirror vanished before sync")
		r.store.UnlinkDirect(sourceQN, mirrorQN)
		r.store.UnlinkAuto(sourceQN, mirrorQN)
		r.store.RemoveProperties(mirrorQN)
	case apierrors.IsConflict(err):
		r.metrics.Syncs.WithLabelValues(r.kind.Name, "conflict").Inc()
		log.V(1).Info("sync conflicted, next event reconciles")
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		r.metrics.Syncs.WithLabelValues(r.kind.Name, "forbidden").Inc()
		log.Info("sync forbidden", "error", err.Error())
	default:
		r.metrics.Syncs.WithLabelValues(r.kind.Name, "error").Inc()
		log.Error(err, "sync failed")
	}
}

// newMirror constructs an auto-mirror of source in the given namespace. Only
// the payload, the immutable fields and the reflection annotations are
// carried over; labels and foreign annotations are not.
func newMirror(kind kinds.Kind, source *unstructured.Unstructured, namespace string, now time.Time) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": kind.APIVersion,
		"kind":       kind.Object,
		"metadata": map[string]interface{}{
			"namespace": namespace,
			"name":      source.GetName(),
			"annotations": map[string]interface{}{
				constants.AnnotationReflects:         source.GetNamespace() + "/" + source.GetName(),
				constants.AnnotationReflectedVersion: source.GetResourceVersion(),
				constants.AnnotationReflectedAt:      now.UTC().Format(time.RFC3339),
				constants.AnnotationAutoReflects:     "true",
			},
		},
	}}
	for _, field := range kind.PayloadFields {
		if value, ok, _ := unstructured.NestedFieldNoCopy(source.Object, field); ok {
			obj.Object[field] = runtime.DeepCopyJSONValue(value)
		}
	}
	for _, field := range kind.ImmutableFields {
		if value, ok, _ := unstructured.NestedFieldNoCopy(source.Object, field); ok {
			obj.Object[field] = runtime.DeepCopyJSONValue(value)
		}
	}
	return obj
}

// autoCreate creates an auto-mirror of source in namespace. An existing
// object with the same name is adopted only when it is this controller's own
// auto-mirror of the same source; user objects are never overwritten.
func (r *Reconciler) autoCreate(ctx context.Context, source *unstructured.Unstructured, sourceQN types.NamespacedName, namespace string) {
	mirrorQN := types.NamespacedName{Namespace: namespace, Name: sourceQN.Name}
	log := r.log.WithValues("source", sourceQN.String(), "mirror", mirrorQN.String())

	created, err := r.gateway.Create(ctx, r.kind, newMirror(r.kind, source, namespace, r.now()))
	switch {
	case err == nil:
		r.metrics.AutoCreates.WithLabelValues(r.kind.Name, "success").Inc()
		log.Info("created auto-mirror", "version", source.GetResourceVersion())
		r.store.LinkAuto(sourceQN, mirrorQN)
		props := annotations.Parse(r.log, created.GetAnnotations())
		r.store.RecordProperties(mirrorQN, props, created.GetResourceVersion())
	case apierrors.IsAlreadyExists(err):
		r.adoptExisting(ctx, source, sourceQN, mirrorQN)
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		r.metrics.AutoCreates.WithLabelValues(r.kind.Name, "forbidden").Inc()
		log.Info("auto-create forbidden", "error", err.Error())
	default:
		r.metrics.AutoCreates.WithLabelValues(r.kind.Name, "error").Inc()
		log.Error(err, "auto-create failed")
	}
}

// adoptExisting resolves an AlreadyExists from autoCreate: a leftover
// auto-mirror of the same source is re-adopted and synced, anything else is
// left alone.
func (r *Reconciler) adoptExisting(ctx context.Context, source *unstructured.Unstructured, sourceQN, mirrorQN types.NamespacedName) {
	log := r.log.WithValues("source", sourceQN.String(), "mirror", mirrorQN.String())

	existing, err := r.gateway.Get(ctx, r.kind, mirrorQN.Namespace, mirrorQN.Name)
	if err != nil {
		log.Error(err, "inspecting existing object failed")
		return
	}
	props := annotations.Parse(r.log, existing.GetAnnotations())
	if !props.AutoReflects || props.Reflects == nil || *props.Reflects != sourceQN {
		r.metrics.AutoCreates.WithLabelValues(r.kind.Name, "occupied").Inc()
		log.Info("name already taken by a foreign object, leaving it untouched")
		return
	}
	r.store.LinkAuto(sourceQN, mirrorQN)
	r.store.RecordProperties(mirrorQN, props, existing.GetResourceVersion())
	if props.ReflectedVersion != source.GetResourceVersion() {
		r.sync(ctx, source, sourceQN, mirrorQN)
	}
}
