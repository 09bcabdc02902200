// Package varobj maintains the set of live GDB variable objects
// backing a debug session's "variables" and "evaluate" requests, and
// reconciles them against GDB's own view on every stop via -var-update.
package varobj

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/opendbg/gdbdap/mi"
)

// arrayTypePattern matches a GDB type string describing an array, e.g.
// "int [10]" or "char [32]", so array-typed variable objects can be
// rendered with index-based child names instead of struct field names.
var arrayTypePattern = regexp.MustCompile(`.*\[\d+\].*`)

// Key identifies a variable object by the evaluation context it was
// created in. Two requests for the same expression in different
// frames, or in the same frame at a different point in the call
// history (StackDepth), must never share a cache entry: GDB's frame
// addresses are only meaningful relative to a particular stop, and
// reusing an entry across stops risks handing back a stale value.
type Key struct {
	ThreadID   int
	FrameID    int
	StackDepth int
	Expression string
}

// Object is one cached variable object: GDB's own view (Name in GDB,
// type, value, child count) plus the scoping key it was created under.
type Object struct {
	Key Key

	Name        string // GDB-side var-object name, e.g. "var3"
	Type        string
	Value       string
	NumChildren int

	// IsChild is true when this Object was produced by
	// -var-list-children rather than created directly from a DAP
	// variables/evaluate request. Child objects are deleted in bulk
	// along with their parent rather than tracked by a separate Key.
	IsChild bool
	Parent  string

	mu sync.Mutex
}

// IsArray reports whether GDB described this object's type as an
// array, per the "TYPE [N]" convention MI uses.
func (o *Object) IsArray() bool {
	return arrayTypePattern.MatchString(o.Type)
}

// Cache owns the GDB-side variable objects created on behalf of a
// debug session and keeps them synchronized with GDB's notion of
// which ones are still in scope.
//
// A Cache is safe for concurrent use, though the single-threaded
// cooperative nature of the session this is embedded in means calls
// are expected to be serialized by the caller in practice.
type Cache struct {
	cmds *mi.Commands

	mu      sync.Mutex
	byKey   map[Key]*Object
	byName  map[string]*Object
	seq     atomic.Int64
}

// NewCache returns an empty Cache driven by cmds.
func NewCache(cmds *mi.Commands) *Cache {
	return &Cache{
		cmds:   cmds,
		byKey:  make(map[Key]*Object),
		byName: make(map[string]*Object),
	}
}

// Get returns the cached Object for key, if one exists and has not
// been invalidated by a subsequent out-of-scope update.
func (c *Cache) Get(key Key) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byKey[key]
	return o, ok
}

// GetByName returns the cached Object with the given GDB-side name,
// which may be a root object or one of its children.
func (c *Cache) GetByName(name string) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byName[name]
	return o, ok
}

// Create materializes a new variable object for key.Expression in the
// scope identified by key, or returns the existing one if key was
// already cached. Create itself selects key.ThreadID/key.FrameID as
// GDB's current thread/frame before issuing -var-create "*" ..., since
// -var-create's frame argument only accepts "*" (the currently
// selected frame) or a frame address, never a bare frame level.
func (c *Cache) Create(ctx context.Context, key Key) (*Object, error) {
	if o, ok := c.Get(key); ok {
		if v, err := c.cmds.VarEvaluateExpression(ctx, o.Name); err == nil {
			o.mu.Lock()
			o.Value = v
			o.mu.Unlock()
		}
		return o, nil
	}

	if err := c.cmds.ThreadSelect(ctx, key.ThreadID); err != nil {
		return nil, err
	}
	if err := c.cmds.StackSelectFrame(ctx, key.FrameID); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("dapvar%d", c.seq.Add(1))
	vo, err := c.cmds.VarCreate(ctx, name, "*", key.Expression)
	if err != nil {
		return nil, err
	}

	o := &Object{
		Key:         key,
		Name:        vo.Name,
		Type:        vo.Type,
		Value:       vo.Value,
		NumChildren: vo.NumChildren,
	}

	c.mu.Lock()
	c.byKey[key] = o
	c.byName[o.Name] = o
	c.mu.Unlock()

	return o, nil
}

// Children lists the child variable objects of o with
// -var-list-children on every call and records each one in the
// by-name index, so later GetByName lookups find it. The returned
// Objects carry the values GDB reported in that listing.
func (c *Cache) Children(ctx context.Context, o *Object) ([]*Object, error) {
	children, err := c.cmds.VarListChildren(ctx, o.Name)
	if err != nil {
		return nil, err
	}

	out := make([]*Object, 0, len(children))
	c.mu.Lock()
	for _, ch := range children {
		child := &Object{
			Name:        ch.Name,
			Type:        ch.Type,
			Value:       ch.Value,
			NumChildren: ch.NumChildren,
			IsChild:     true,
			Parent:      o.Name,
			Key:         Key{Expression: ch.Expression},
		}
		c.byName[child.Name] = child
		out = append(out, child)
	}
	c.mu.Unlock()
	return out, nil
}

// Assign sets o's value via -var-assign and updates the cached value
// to match what GDB echoes back.
func (c *Cache) Assign(ctx context.Context, o *Object, value string) (string, error) {
	newValue, err := c.cmds.VarAssign(ctx, o.Name, value)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	o.Value = newValue
	o.mu.Unlock()
	return newValue, nil
}

// Refresh re-issues -var-update for every cached root object and
// applies the resulting changes: updated values are written back in
// place, and objects GDB reports as having left scope are deleted both
// from GDB (-var-delete) and from the cache. It returns the set of
// root keys that left scope, so the DAP layer can invalidate any
// variablesReference built on top of them.
//
// Refresh corresponds to the reconciliation spec calls for after every
// stop: a stale varobj must never be handed back to the client as if
// it were still live.
func (c *Cache) Refresh(ctx context.Context) ([]Key, error) {
	c.mu.Lock()
	roots := make([]*Object, 0, len(c.byKey))
	for _, o := range c.byKey {
		roots = append(roots, o)
	}
	c.mu.Unlock()

	var dropped []Key
	for _, o := range roots {
		updates, err := c.cmds.VarUpdate(ctx, o.Name)
		if err != nil {
			return dropped, err
		}
		for _, u := range updates {
			if !u.InScope {
				c.remove(o)
				dropped = append(dropped, o.Key)
				continue
			}
			if u.Name == o.Name {
				o.mu.Lock()
				o.Value = u.NewValue
				if u.TypeChanged {
					o.Type = u.NewType
				}
				o.mu.Unlock()
			}
		}
	}
	return dropped, nil
}

// remove deletes o from GDB and from the cache. It does not return an
// error from the GDB-side delete: by the time an object is known to be
// out of scope, -var-delete on it is best-effort cleanup, not a
// correctness requirement.
func (c *Cache) remove(o *Object) {
	c.mu.Lock()
	delete(c.byKey, o.Key)
	delete(c.byName, o.Name)
	c.mu.Unlock()

	_ = c.cmds.VarDelete(context.Background(), o.Name)
}

// Reset destroys every cached variable object in GDB and clears the
// cache. The session does not call it on a stop: its *stopped handler
// reconciles the cache with Refresh instead, so entries persist across
// stops until GDB reports them out of scope.
func (c *Cache) Reset(ctx context.Context) {
	c.mu.Lock()
	roots := make([]*Object, 0, len(c.byKey))
	for _, o := range c.byKey {
		roots = append(roots, o)
	}
	c.byKey = make(map[Key]*Object)
	c.byName = make(map[string]*Object)
	c.mu.Unlock()

	for _, o := range roots {
		_ = c.cmds.VarDelete(ctx, o.Name)
	}
}
