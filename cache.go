package treewire

// CacheTree is the local mirror of the remote document. It is owned by
// one client session and mutated only from the session's stream loop.
// Invariant: after every apply, no container below the root is empty.
type CacheTree struct {
	root *Value
}

func NewCacheTree() *CacheTree {
	return &CacheTree{
		root: NewMapValue(),
	}
}

func (self *CacheTree) Root() *Value {
	return self.root
}

// At walks the normalized path from the root. Returns nil when any step
// is absent. Never mutates the tree.
func (self *CacheTree) At(path string) *Value {
	node := self.root
	for _, key := range splitPath(path) {
		if node == nil {
			return nil
		}
		node = node.Child(key)
	}
	return node
}

// Apply mutates the tree in place with one change event, then prunes
// empty containers bottom up. Put is idempotent under replay; Patch is
// not, matching the remote feed's own semantics.
func (self *CacheTree) Apply(event *ChangeEvent) {
	switch event.Kind {
	case EventKindPut:
		self.applyPut(event.Path, event.Data)
	case EventKindPatch:
		self.applyPatch(event.Path, event.Data)
	}
	pruneEmpty(self.root)
}

func (self *CacheTree) applyPut(path string, data *Value) {
	if path == "/" {
		if data.IsNull() {
			self.root = NewMapValue()
		} else {
			self.root = data
		}
		return
	}
	parent, last := self.walk(splitPath(path))
	if data.IsNull() {
		parent.DeleteChild(last)
	} else {
		parent.SetChild(last, data)
	}
}

func (self *CacheTree) applyPatch(path string, data *Value) {
	var node *Value
	if path == "/" {
		if !self.root.IsContainer() {
			self.root = NewMapValue()
		}
		node = self.root
	} else {
		parent, last := self.walk(splitPath(path))
		child := parent.Child(last)
		if child == nil || !child.IsContainer() {
			child = NewMapValue()
			parent.SetChild(last, child)
		}
		node = child
	}
	for _, key := range data.Keys() {
		sub := data.Child(key)
		if sub.IsNull() {
			node.DeleteChild(key)
		} else {
			node.SetChild(key, sub)
		}
	}
}

// walk descends to the parent of the final key, healing any non container
// step with an empty keyed container. This restores branches that a
// previous prune removed.
func (self *CacheTree) walk(keys []string) (*Value, string) {
	if !self.root.IsContainer() {
		self.root = NewMapValue()
	}
	node := self.root
	for _, key := range keys[:len(keys)-1] {
		child := node.Child(key)
		if child == nil || !child.IsContainer() {
			child = NewMapValue()
			node.SetChild(key, child)
		}
		node = child
	}
	return node, keys[len(keys)-1]
}

// pruneEmpty removes empty containers bottom up. Children are pruned
// before the emptiness test so a removed node cannot leave dangling
// descendants. The root itself may be left empty.
func pruneEmpty(node *Value) {
	switch node.Kind() {
	case KindMap:
		for key, child := range node.fields {
			pruneEmpty(child)
			if child.IsContainer() && child.Len() == 0 {
				delete(node.fields, key)
			}
		}
	case KindArray:
		// descending index order keeps earlier indexes stable across splices
		for i := len(node.items) - 1; 0 <= i; i -= 1 {
			child := node.items[i]
			pruneEmpty(child)
			if child.IsContainer() && child.Len() == 0 {
				node.items = append(node.items[:i], node.items[i+1:]...)
			}
		}
	}
}
