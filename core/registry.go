package core

import (
	"fmt"
	"sync"
)

// registry maps IDs and names to live objects.
type registry struct {
	mu sync.RWMutex

	// Maps object ID to object
	objects map[ObjectID]*Object

	// Maps registered name to object ID
	names map[string]ObjectID

	// Counter for generating unique object IDs, zero is never handed out
	nextID ObjectID

	// Upper bound on live objects, zero means unlimited
	limit int
}

func newRegistry(limit int) *registry {
	return &registry{
		objects: make(map[ObjectID]*Object),
		names:   make(map[string]ObjectID),
		limit:   limit,
	}
}

// allocate reserves an ID and, if given, the name. The reservation is
// dropped with unregister if the object never starts.
func (r *registry) allocate(name string) (ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && len(r.objects) >= r.limit {
		return 0, fmt.Errorf("allocate object: %w (limit %d)", ErrTooManyObjects, r.limit)
	}
	if name != "" {
		if _, exists := r.names[name]; exists {
			return 0, fmt.Errorf("allocate object %q: %w", name, ErrNameTaken)
		}
	}

	for {
		r.nextID++
		if r.nextID == 0 {
			continue
		}
		if _, used := r.objects[r.nextID]; !used {
			break
		}
	}

	id := r.nextID
	r.objects[id] = nil
	if name != "" {
		r.names[name] = id
	}
	return id, nil
}

// bind publishes obj under the ID allocate returned for it.
func (r *registry) bind(obj *Object) {
	r.mu.Lock()
	r.objects[obj.id] = obj
	r.mu.Unlock()
}

func (r *registry) unregister(id ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, exists := r.objects[id]
	if !exists {
		return
	}
	delete(r.objects, id)
	if obj != nil && obj.name != "" {
		delete(r.names, obj.name)
		return
	}
	for name, nid := range r.names {
		if nid == id {
			delete(r.names, name)
			break
		}
	}
}

func (r *registry) lookup(id ObjectID) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj := r.objects[id]
	return obj, obj != nil
}

func (r *registry) lookupName(name string) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.names[name]
	if !exists {
		return nil, false
	}
	obj := r.objects[id]
	return obj, obj != nil
}

func (r *registry) list() []*Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	objects := make([]*Object, 0, len(r.objects))
	for _, obj := range r.objects {
		if obj != nil {
			objects = append(objects, obj)
		}
	}
	return objects
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
