// Package annotations parses the reflection control annotations into a typed
// record and implements the namespace predicates they carry.
package annotations

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/types"

	"github.com/kube-reflector/reflector/pkg/constants"
)

// reflectsFormat validates the "namespace/name" form of the reflects
// annotation.
var reflectsFormat = regexp.MustCompile(`^[^/]+/[^/]+$`)

// Properties is the parsed reflection state of a single resource.
type Properties struct {
	// Allowed is true when the resource permits reflection of its payload.
	Allowed bool
	// AllowedNamespaces lists the namespaces permitted to hold mirrors.
	// Nil means the annotation was absent and every namespace is permitted;
	// an empty slice permits none except the source's own.
	AllowedNamespaces []Matcher
	// AutoEnabled is true when the resource requests auto-created mirrors.
	AutoEnabled bool
	// AutoNamespaces restricts auto-creation. Nil means the annotation was
	// absent and AllowedNamespaces applies; use AutoMatchers.
	AutoNamespaces []Matcher

	// Reflects is set on mirrors: the source the mirror tracks.
	Reflects *types.NamespacedName
	// ReflectedVersion is the source resourceVersion at the last sync.
	ReflectedVersion string
	// ReflectedAt is the wall-clock time of the last sync.
	ReflectedAt time.Time
	// AutoReflects is true on mirrors created by the controller.
	AutoReflects bool
}

// IsMirror reports whether the resource declares a source to track.
func (p Properties) IsMirror() bool { return p.Reflects != nil }

// AutoMatchers returns the effective namespace predicates for auto-creation:
// the auto list when present, the allowed list otherwise.
func (p Properties) AutoMatchers() []Matcher {
	if p.AutoNamespaces != nil {
		return p.AutoNamespaces
	}
	return p.AllowedNamespaces
}

// Parse reads the reflector annotations from a resource's annotation map.
// Malformed values never fail the parse: they are logged and treated as
// absent.
func Parse(log logr.Logger, annotations map[string]string) Properties {
	props := Properties{
		Allowed:          parseBool(log, annotations, constants.AnnotationAllowed),
		AutoEnabled:      parseBool(log, annotations, constants.AnnotationAutoEnabled),
		AutoReflects:     parseBool(log, annotations, constants.AnnotationAutoReflects),
		ReflectedVersion: annotations[constants.AnnotationReflectedVersion],
	}

	if value, ok := annotations[constants.AnnotationAllowedNamespaces]; ok {
		props.AllowedNamespaces = presentMatchers(log, value)
	}
	if value, ok := annotations[constants.AnnotationAutoNamespaces]; ok {
		props.AutoNamespaces = presentMatchers(log, value)
	}

	if value := annotations[constants.AnnotationReflects]; value != "" {
		if reflectsFormat.MatchString(value) {
			parts := strings.SplitN(value, "/", 2)
			props.Reflects = &types.NamespacedName{Namespace: parts[0], Name: parts[1]}
		} else {
			log.Info("ignoring malformed reflects annotation", "value", value)
		}
	}

	if value := annotations[constants.AnnotationReflectedAt]; value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			log.Info("ignoring malformed reflected-at annotation", "value", value)
		} else {
			props.ReflectedAt = at
		}
	}

	return props
}

// presentMatchers parses the value of a namespace-list annotation that is
// present. The result is never nil, so an explicitly empty list stays
// distinguishable from an absent annotation.
func presentMatchers(log logr.Logger, value string) []Matcher {
	matchers := ParseMatchers(log, value)
	if matchers == nil {
		matchers = []Matcher{}
	}
	return matchers
}

// parseBool implements the annotation boolean rules: absent is false, a value
// case-insensitively equal to "true" is true, and any other non-empty value
// is false with a warning.
func parseBool(log logr.Logger, annotations map[string]string, key string) bool {
	value, ok := annotations[key]
	if !ok || value == "" {
		return false
	}
	if strings.EqualFold(value, "true") {
		return true
	}
	log.Info("treating non-true boolean annotation as false", "annotation", key, "value", value)
	return false
}

// PermittedNamespace reports whether a mirror namespace is acceptable for a
// source. The source's own namespace always is; a nil matcher list places no
// restriction; anything else must satisfy the matchers.
func PermittedNamespace(sourceNamespace, mirrorNamespace string, matchers []Matcher) bool {
	if mirrorNamespace == sourceNamespace {
		return true
	}
	if matchers == nil {
		return true
	}
	return Matches(mirrorNamespace, matchers)
}

// TargetNamespace reports whether a namespace is eligible for auto-creation.
// A nil matcher list is unrestricted; callers exclude the source's own
// namespace separately.
func TargetNamespace(namespace string, matchers []Matcher) bool {
	if matchers == nil {
		return true
	}
	return Matches(namespace, matchers)
}
