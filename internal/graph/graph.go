// Package graph implements the column name table of a catalog. Each Graph
// maps names to already-resolved lazy arrays; definitions never refer back to
// the table by name, so reassignments can never form cycles.
//
// Graphs are layered: a child layer selects rows of its parent, owns its own
// definitions and tombstones, and resolves every other name through its
// parent, wrapping the parent's array in a selection.
package graph

import (
	"fmt"
	"sync"

	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/selection"
)

// Kind distinguishes the column definition variants
type Kind int

const (
	// Hard columns are read from a backing data source
	Hard Kind = iota
	// Virtual columns are expressions over previously resolved arrays
	Virtual
	// Procedural columns are pure functions of the global row index and a seed
	Procedural
)

// String returns the name of a Kind
func (k Kind) String() string {
	switch k {
	case Hard:
		return "hard"
	case Procedural:
		return "procedural"
	default:
		return "virtual"
	}
}

// Entry is a column definition
type Entry struct {
	Name      string
	Kind      Kind
	Array     array.Array
	Protected bool // Protected is true iff the name is backed by a hard or procedural column
}

// inheritance memoizes the selection of a parent definition
type inheritance struct {
	source string // ID of the parent's array
	entry  *Entry
}

// InvalidationHook is notified with the name of every column whose definition changes
type InvalidationHook func(name string)

// Graph is one layer of a column name table
type Graph struct {
	lock         sync.RWMutex
	parent       *Graph
	sel          selection.Selection
	rows         array.Rows
	length       int
	hard         map[string]*Entry
	hardOrder    []string
	defs         map[string]*Entry
	virtualOrder []string
	tombstones   map[string]bool
	inherited    map[string]inheritance
	version      uint64
	hooks        []InvalidationHook
	hookKeys     map[any]bool
}

func newGraph(parent *Graph, length int) *Graph {
	return &Graph{
		parent:     parent,
		sel:        selection.All(),
		length:     length,
		hard:       make(map[string]*Entry),
		defs:       make(map[string]*Entry),
		tombstones: make(map[string]bool),
		inherited:  make(map[string]inheritance),
		hookKeys:   make(map[any]bool),
	}
}

// New creates a root Graph whose columns all have the given length. A negative
// length means the length is not yet known; it is fixed by the first column.
func New(length int) *Graph {
	return newGraph(nil, length)
}

// Len returns the number of rows in every column of this layer, or -1 if unknown
func (g *Graph) Len() int {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.length
}

// Parent returns the layer this layer selects from, or nil for a root
func (g *Graph) Parent() *Graph {
	return g.parent
}

// Selection returns the selection this layer applies to its parent
func (g *Graph) Selection() selection.Selection {
	return g.sel
}

// Rows returns the rows of the parent selected by this layer
func (g *Graph) Rows() array.Rows {
	return g.rows
}

// Version increases with every mutation of this layer
func (g *Graph) Version() uint64 {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.version
}

// OnInvalidate registers a hook which is called whenever a column of this
// layer is redefined or deleted. At most one hook is kept per key; it returns
// false, leaving the hooks unchanged, if key already has one.
func (g *Graph) OnInvalidate(key any, hook InvalidationHook) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.hookKeys[key] {
		return false
	}
	g.hookKeys[key] = true
	g.hooks = append(g.hooks, hook)
	return true
}

// NumHooks returns the number of registered invalidation hooks
func (g *Graph) NumHooks() int {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return len(g.hooks)
}

func (g *Graph) invalidate(name string) {
	g.version++
	for _, hook := range g.hooks {
		hook(name)
	}
}

func (g *Graph) checkLength(name string, a array.Array) error {
	if g.length < 0 {
		g.length = a.Len()
		return nil
	}
	if a.Len() != g.length {
		return fmt.Errorf("column %s has length %d, expected %d", name, a.Len(), g.length)
	}
	return nil
}

// SetHard defines a column backed by a data source or generator. Hard names are protected.
func (g *Graph) SetHard(name string, kind Kind, a array.Array) error {
	if kind == Virtual {
		return fmt.Errorf("column %s: hard backing must be hard or procedural", name)
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	if err := g.checkLength(name, a); err != nil {
		return err
	}
	if _, ok := g.hard[name]; !ok {
		g.hardOrder = append(g.hardOrder, name)
	}
	g.hard[name] = &Entry{Name: name, Kind: kind, Array: a, Protected: true}
	delete(g.defs, name)
	delete(g.tombstones, name)
	g.invalidate(name)
	return nil
}

// Set defines or overrides a virtual column. Overriding a hard name keeps it protected.
func (g *Graph) Set(name string, a array.Array) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if err := g.checkLength(name, a); err != nil {
		return err
	}
	protected := g.hasHardLocked(name)
	if _, ok := g.defs[name]; !ok && !protected && !g.inParentLocked(name) {
		g.virtualOrder = append(g.virtualOrder, name)
	}
	g.defs[name] = &Entry{Name: name, Kind: Virtual, Array: a, Protected: protected}
	delete(g.tombstones, name)
	g.invalidate(name)
	return nil
}

// Get returns the current definition of a column
func (g *Graph) Get(name string) (*Entry, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.getLocked(name)
}

func (g *Graph) getLocked(name string) (*Entry, error) {
	if e, ok := g.defs[name]; ok {
		return e, nil
	}
	if e, ok := g.hard[name]; ok {
		return e, nil
	}
	if g.tombstones[name] || g.parent == nil {
		return nil, errors.MissingColumnError{Name: name}
	}
	pe, err := g.parent.Get(name)
	if err != nil {
		return nil, err
	}
	return g.inherit(name, pe), nil
}

// GetHard returns the hard or procedural backing of a column, ignoring any virtual override
func (g *Graph) GetHard(name string) (*Entry, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if e, ok := g.hard[name]; ok {
		return e, nil
	}
	if g.parent == nil {
		return nil, errors.AttributeProbeError{Name: name}
	}
	pe, err := g.parent.GetHard(name)
	if err != nil {
		return nil, err
	}
	return g.inherit("\x00hard:"+name, pe), nil
}

// inherit wraps a parent entry in this layer's selection, reusing the wrapper
// for as long as the parent's definition is unchanged
func (g *Graph) inherit(key string, pe *Entry) *Entry {
	if in, ok := g.inherited[key]; ok && in.source == pe.Array.ID() {
		return in.entry
	}
	wrapped := &Entry{Name: pe.Name, Kind: pe.Kind, Protected: pe.Protected, Array: pe.Array}
	if !g.sel.IsAll() {
		wrapped.Array = array.Select(pe.Array, g.rows)
	}
	g.inherited[key] = inheritance{source: pe.Array.ID(), entry: wrapped}
	return wrapped
}

// Has returns true iff a column is defined in this layer or inherited from its parent
func (g *Graph) Has(name string) bool {
	_, err := g.Get(name)
	return err == nil
}

func (g *Graph) hasHardLocked(name string) bool {
	if _, ok := g.hard[name]; ok {
		return true
	}
	if g.parent == nil {
		return false
	}
	_, err := g.parent.GetHard(name)
	return err == nil
}

func (g *Graph) inParentLocked(name string) bool {
	return g.parent != nil && !g.tombstones[name] && g.parent.Has(name)
}

// IsHard returns true iff a column is backed by a hard or procedural column
func (g *Graph) IsHard(name string) bool {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.hasHardLocked(name)
}

// Delete removes a virtual column. Hard and procedural columns, including
// overridden ones, cannot be deleted.
func (g *Graph) Delete(name string) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.hasHardLocked(name) {
		return errors.ProtectedColumnError{Name: name}
	}
	_, own := g.defs[name]
	inParent := g.inParentLocked(name)
	if !own && !inParent {
		return errors.MissingColumnError{Name: name}
	}
	if own {
		delete(g.defs, name)
		for i, n := range g.virtualOrder {
			if n == name {
				g.virtualOrder = append(g.virtualOrder[:i:i], g.virtualOrder[i+1:]...)
				break
			}
		}
	}
	if inParent {
		g.tombstones[name] = true
	}
	delete(g.inherited, name)
	g.invalidate(name)
	return nil
}

// HardNames enumerates hard and procedural columns, in schema order
func (g *Graph) HardNames() []string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	var names []string
	if g.parent != nil {
		names = g.parent.HardNames()
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range g.hardOrder {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// VirtualNames enumerates columns which are not hard, in insertion order
func (g *Graph) VirtualNames() []string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	var names []string
	if g.parent != nil {
		for _, n := range g.parent.VirtualNames() {
			if !g.tombstones[n] {
				names = append(names, n)
			}
		}
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range g.virtualOrder {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// Names enumerates every column: hard columns in schema order, then virtual columns in insertion order
func (g *Graph) Names() []string {
	return append(g.HardNames(), g.VirtualNames()...)
}

// isPureSelection is true iff this layer only selects rows, without definitions of its own
func (g *Graph) isPureSelection() bool {
	return g.parent != nil && len(g.defs) == 0 && len(g.hard) == 0 && len(g.tombstones) == 0
}

// Layer creates a child layer holding the rows of this layer chosen by sel.
// Layering a layer which only selects rows composes both selections into a
// single layer over the original parent.
func (g *Graph) Layer(sel selection.Selection) (*Graph, error) {
	g.lock.RLock()
	pure := g.isPureSelection()
	length := g.length
	g.lock.RUnlock()
	if length < 0 {
		return nil, errors.ConfigurationError{Missing: []string{"size"}, Reason: "cannot select rows of a catalog of unresolved size"}
	}
	if pure {
		composed, err := selection.Compose(g.sel, sel, g.parent.Len())
		if err != nil {
			return nil, err
		}
		return g.parent.Layer(composed)
	}
	rows, err := sel.Resolve(length)
	if err != nil {
		return nil, err
	}
	child := newGraph(g, rows.Len())
	child.sel = sel
	child.rows = rows
	return child, nil
}

// Flatten produces an independent root Graph holding the current definitions of every column of this layer
func (g *Graph) Flatten() (*Graph, error) {
	flat := New(g.Len())
	for _, name := range g.HardNames() {
		e, err := g.GetHard(name)
		if err != nil {
			return nil, err
		}
		if err := flat.SetHard(name, e.Kind, e.Array); err != nil {
			return nil, err
		}
	}
	for _, name := range g.Names() {
		e, err := g.Get(name)
		if err != nil {
			return nil, err
		}
		if e.Kind == Virtual {
			if err := flat.Set(name, e.Array); err != nil {
				return nil, err
			}
		}
	}
	return flat, nil
}

// Depth returns the number of layers above the root
func (g *Graph) Depth() int {
	depth := 0
	for p := g.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}
