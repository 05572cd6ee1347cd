// Package constants defines the annotation keys and default values used by
// the reflector controller.
//
// Every annotation key shares the AnnotationPrefix domain. The eight suffixes
// are a wire contract: user manifests reference them verbatim, so changing
// any of them is a breaking change.
package constants

const (
	// AnnotationPrefix is the domain prefix shared by all reflector annotations.
	AnnotationPrefix = "reflector.v1.k8s.emberstack.com/"

	// --- Source annotations ---
	// Set by users on source resources to configure reflection.

	// AnnotationAllowed marks a resource as a reflection source when "true".
	AnnotationAllowed = AnnotationPrefix + "reflection-allowed"

	// AnnotationAllowedNamespaces restricts which namespaces may hold mirrors.
	// Comma-separated list of namespace names or regular expressions. Absent
	// means every namespace is permitted; an explicitly empty value permits
	// none except the source's own.
	AnnotationAllowedNamespaces = AnnotationPrefix + "reflection-allowed-namespaces"

	// AnnotationAutoEnabled requests automatic creation of mirrors when "true".
	AnnotationAutoEnabled = AnnotationPrefix + "reflection-auto-enabled"

	// AnnotationAutoNamespaces restricts auto-creation further. When absent,
	// the allowed-namespaces list applies.
	AnnotationAutoNamespaces = AnnotationPrefix + "reflection-auto-namespaces"

	// --- Mirror annotations ---
	// Set by users on direct mirrors, or by the controller on auto-mirrors.

	// AnnotationReflects names the source a mirror tracks, as "namespace/name".
	AnnotationReflects = AnnotationPrefix + "reflects"

	// AnnotationReflectedVersion records the source resourceVersion at the
	// last successful sync.
	AnnotationReflectedVersion = AnnotationPrefix + "reflected-version"

	// AnnotationReflectedAt records the wall-clock time of the last sync,
	// RFC 3339 UTC.
	AnnotationReflectedAt = AnnotationPrefix + "reflected-at"

	// AnnotationAutoReflects is "true" on mirrors created by the controller.
	AnnotationAutoReflects = AnnotationPrefix + "auto-reflects"

	// ControllerName is the root logger name.
	ControllerName = "reflector"

	// HelmSecretTypePrefix identifies Helm release secrets. Secrets whose type
	// starts with this prefix are never observed by the engine.
	HelmSecretTypePrefix = "helm.sh"
)

// Watcher defaults. The queue capacity smooths bursts; it is not load-bearing
// for correctness because the producer blocks when the queue is full.
const (
	DefaultQueueCapacity         = 256
	DefaultSessionTimeoutSeconds = 3600
)
