package treewire

import (
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

// ListenerFunc observes a value change at a registered path.
type ListenerFunc func(path string, value *Value)

// ListenerRegistry maps normalized paths to callbacks. The last
// registration for a path wins. Listeners at nesting or overlapping paths
// are independent; one event may notify zero, one, or many of them.
type ListenerRegistry struct {
	mutex     sync.Mutex
	listeners map[string]ListenerFunc
}

func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners: map[string]ListenerFunc{},
	}
}

func (self *ListenerRegistry) Put(path string, callback ListenerFunc) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.listeners[normalizePath(path)] = callback
}

func (self *ListenerRegistry) Remove(path string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.listeners, normalizePath(path))
}

func (self *ListenerRegistry) snapshot() map[string]ListenerFunc {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Clone(self.listeners)
}

// Dispatch notifies every listener affected by one applied event. The
// tree must already reflect the event.
func (self *ListenerRegistry) Dispatch(event *ChangeEvent, tree *CacheTree) {
	listeners := self.snapshot()
	paths := maps.Keys(listeners)
	slices.Sort(paths)
	for _, listenerPath := range paths {
		if path, value, ok := resolve(event, tree, listenerPath); ok {
			listeners[listenerPath](path, value)
		}
	}
}

// resolve decides whether a listener observes this event and with what
// value. The ancestor case delivers the value at most one level below the
// listener's own path, mirroring the remote feed's shallow delivery.
func resolve(event *ChangeEvent, tree *CacheTree, listenerPath string) (string, *Value, bool) {
	switch {
	case listenerPath == event.Path:
		return event.Path, event.Data, true
	case event.Kind == EventKindPatch && patchTouches(event, listenerPath):
		// a patch child key landing exactly on the listener path acts as
		// a put of that child
		return listenerPath, valueOrNull(tree.At(listenerPath)), true
	case isAncestor(listenerPath, event.Path):
		listenerKeys := splitPath(listenerPath)
		eventKeys := splitPath(event.Path)
		n := len(eventKeys) - 1
		if len(listenerKeys)+1 < n {
			n = len(listenerKeys) + 1
		}
		return listenerPath, valueOrNull(tree.At(joinKeys(eventKeys[:n]))), true
	case event.Path == "/" || isAncestor(event.Path, listenerPath):
		return listenerPath, valueOrNull(tree.At(listenerPath)), true
	default:
		return "", nil, false
	}
}

func patchTouches(event *ChangeEvent, listenerPath string) bool {
	for _, key := range event.Data.Keys() {
		if joinChild(event.Path, key) == listenerPath {
			return true
		}
	}
	return false
}

func valueOrNull(value *Value) *Value {
	if value == nil {
		return NewNullValue()
	}
	return value
}
