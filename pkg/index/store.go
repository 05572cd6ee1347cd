// Package index holds the in-memory reflection state for one mirrored kind:
// which mirrors track which sources, which sources were advertised but never
// seen, the parsed annotation state of every observed object, and the set of
// namespaces known to exist.
//
// All state is derived from watch events and is rebuilt from scratch after a
// watch session ends, so nothing here is persisted.
package index

import (
	"sync"

	"k8s.io/apimachinery/pkg/types"

	"github.com/kube-reflector/reflector/pkg/annotations"
)

// Record is the last observed state of a single object: its parsed
// annotations plus the resourceVersion it carried.
type Record struct {
	Properties      annotations.Properties
	ResourceVersion string
}

// Store is the reflection state for a single kind. A single mutex guards all
// maps so that session wipes are atomic with respect to readers.
type Store struct {
	mu sync.Mutex

	// direct maps a source to the mirrors that explicitly declared it.
	direct map[types.NamespacedName]map[types.NamespacedName]struct{}
	// auto maps a source to the mirrors the controller created for it.
	auto map[types.NamespacedName]map[types.NamespacedName]struct{}
	// properties is the last observed state of every observed object.
	properties map[types.NamespacedName]Record
	// notFound records sources that a mirror referenced but that have not
	// been observed, so the "source missing" warning fires once.
	notFound map[types.NamespacedName]struct{}
	// namespaces is the set of namespaces known to exist.
	namespaces map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.reset(true)
	return s
}

func (s *Store) reset(includeNamespaces bool) {
	s.direct = make(map[types.NamespacedName]map[types.NamespacedName]struct{})
	s.auto = make(map[types.NamespacedName]map[types.NamespacedName]struct{})
	s.properties = make(map[types.NamespacedName]Record)
	s.notFound = make(map[types.NamespacedName]struct{})
	if includeNamespaces {
		s.namespaces = make(map[string]struct{})
	}
}

// RecordProperties stores the last observed state of an object.
func (s *Store) RecordProperties(object types.NamespacedName, props annotations.Properties, resourceVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[object] = Record{Properties: props, ResourceVersion: resourceVersion}
}

// Properties returns the last observed state of an object.
func (s *Store) Properties(object types.NamespacedName) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.properties[object]
	return rec, ok
}

// Sources returns every recorded object that is not a mirror, paired with
// its record. Used for auto fan-out when a namespace appears.
func (s *Store) Sources() map[types.NamespacedName]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.NamespacedName]Record)
	for qn, rec := range s.properties {
		if !rec.Properties.IsMirror() {
			out[qn] = rec
		}
	}
	return out
}

// RemoveProperties forgets an object's annotation state.
func (s *Store) RemoveProperties(object types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.properties, object)
}

// LinkDirect records that mirror explicitly tracks source.
func (s *Store) LinkDirect(source, mirror types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link(s.direct, source, mirror)
}

// UnlinkDirect removes a direct link. Removing an absent link is a no-op.
func (s *Store) UnlinkDirect(source, mirror types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlink(s.direct, source, mirror)
}

// DirectMirrors returns the mirrors explicitly tracking source.
func (s *Store) DirectMirrors(source types.NamespacedName) []types.NamespacedName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.direct[source])
}

// LinkAuto records that mirror was auto-created for source.
func (s *Store) LinkAuto(source, mirror types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link(s.auto, source, mirror)
}

// UnlinkAuto removes an auto link. Removing an absent link is a no-op.
func (s *Store) UnlinkAuto(source, mirror types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlink(s.auto, source, mirror)
}

// AutoMirrors returns the mirrors auto-created for source.
func (s *Store) AutoMirrors(source types.NamespacedName) []types.NamespacedName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.auto[source])
}

// AutoNamespaces returns the namespaces that hold an auto-mirror of source.
func (s *Store) AutoNamespaces(source types.NamespacedName) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.auto[source]))
	for mirror := range s.auto[source] {
		out[mirror.Namespace] = struct{}{}
	}
	return out
}

// DropLinks forgets every mirror link recorded for source, direct and auto.
func (s *Store) DropLinks(source types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.direct, source)
	delete(s.auto, source)
}

// DropAutoNamespace removes every auto link whose mirror lives in namespace.
// Called when the namespace itself is deleted.
func (s *Store) DropAutoNamespace(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for source, set := range s.auto {
		for mirror := range set {
			if mirror.Namespace == namespace {
				delete(set, mirror)
			}
		}
		if len(set) == 0 {
			delete(s.auto, source)
		}
	}
}

// MarkNotFound records that source was referenced but has not been observed.
// It reports true on the first mark, so callers can warn exactly once.
func (s *Store) MarkNotFound(source types.NamespacedName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notFound[source]; ok {
		return false
	}
	s.notFound[source] = struct{}{}
	return true
}

// IsNotFound reports whether source is marked missing, suppressing repeated
// lookups.
func (s *Store) IsNotFound(source types.NamespacedName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notFound[source]
	return ok
}

// ClearNotFound forgets a missing-source mark, typically because the source
// appeared.
func (s *Store) ClearNotFound(source types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notFound, source)
}

// AddNamespace records a namespace as existing.
func (s *Store) AddNamespace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[name] = struct{}{}
}

// RemoveNamespace forgets a namespace.
func (s *Store) RemoveNamespace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, name)
}

// HasNamespace reports whether a namespace is known to exist.
func (s *Store) HasNamespace(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.namespaces[name]
	return ok
}

// Namespaces returns the known namespace names.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		out = append(out, name)
	}
	return out
}

// ClearResources wipes the resource-derived state after a kind watch session
// ends. The namespace set survives: it is owned by the namespace session.
func (s *Store) ClearResources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(false)
}

// ClearAll wipes everything, including the namespace set, after the
// namespace watch session ends.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(true)
}

func link(m map[types.NamespacedName]map[types.NamespacedName]struct{}, source, mirror types.NamespacedName) {
	set, ok := m[source]
	if !ok {
		set = make(map[types.NamespacedName]struct{})
		m[source] = set
	}
	set[mirror] = struct{}{}
}

func unlink(m map[types.NamespacedName]map[types.NamespacedName]struct{}, source, mirror types.NamespacedName) {
	set, ok := m[source]
	if !ok {
		return
	}
	delete(set, mirror)
	if len(set) == 0 {
		delete(m, source)
	}
}

func keys(set map[types.NamespacedName]struct{}) []types.NamespacedName {
	out := make([]types.NamespacedName, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
