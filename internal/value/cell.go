package value

import (
	"sync"
	"sync/atomic"
)

// WriteOutcome is the result of a ValueCell.Write call.
type WriteOutcome int

const (
	WriteOk WriteOutcome = iota
	WriteTypeMismatch
)

// Cell is the storage form of a Value: a typed, atomically-readable,
// optionally-shared container. Once created its Kind never changes;
// retyping a property means constructing a new Cell and replacing the
// reference held by owner and subscribers (see the loader's
// PropertyTypeChange handling).
//
// A Cell is shared by reference: NewCell's returned *Cell is the
// owner's reference; ShallowClone returns another reference to the
// same underlying storage, used for subscribers.
type Cell struct {
	kind     Kind
	elemKind Kind // only meaningful if kind == KindArray

	scalar atomic.Value // holds a Value, for scalar kinds (not String, not Array)

	strMu sync.RWMutex
	str   string

	arr []atomic.Value // one slot per array element, only for KindArray
}

// NewCell creates a zero-valued Cell of the given kind. length is
// only used when kind == KindArray.
func NewCell(kind Kind, elemKind Kind, length int) *Cell {
	c := &Cell{kind: kind, elemKind: elemKind}
	switch kind {
	case KindArray:
		c.arr = make([]atomic.Value, length)
		zero := zeroOf(elemKind)
		for i := range c.arr {
			c.arr[i].Store(zero)
		}
	case KindString:
		c.str = ""
	default:
		c.scalar.Store(zeroOf(kind))
	}
	return c
}

// NewCellWith creates a Cell pre-populated with v.
func NewCellWith(v Value) *Cell {
	if v.kind == KindArray {
		c := NewCell(KindArray, v.elemKind, len(v.arr))
		for i, e := range v.arr {
			c.arr[i].Store(e)
		}
		return c
	}
	c := NewCell(v.kind, KindNone, 0)
	c.writeScalarOrString(v)
	return c
}

func (c *Cell) Kind() Kind { return c.kind }

// ElemKind returns the element kind for an Array cell.
func (c *Cell) ElemKind() Kind { return c.elemKind }

// Len returns the array length, or 0 for non-array cells.
func (c *Cell) Len() int {
	if c.kind != KindArray {
		return 0
	}
	return len(c.arr)
}

// Read always succeeds. For String cells it returns a copy; for
// Array cells it returns a Value view built from the current element
// snapshot.
func (c *Cell) Read() Value {
	switch c.kind {
	case KindString:
		c.strMu.RLock()
		defer c.strMu.RUnlock()
		return Str(c.str)
	case KindArray:
		elems := make([]Value, len(c.arr))
		for i := range c.arr {
			elems[i] = c.arr[i].Load().(Value)
		}
		return Value{kind: KindArray, elemKind: c.elemKind, arr: elems}
	default:
		v := c.scalar.Load()
		if v == nil {
			return zeroOf(c.kind)
		}
		return v.(Value)
	}
}

// Write replaces the cell's value. The cell's Kind never changes
// through Write: if v's kind (and, for arrays, element kind) does not
// match, it returns WriteTypeMismatch and the cell is left untouched.
func (c *Cell) Write(v Value) WriteOutcome {
	if v.kind != c.kind {
		return WriteTypeMismatch
	}
	if c.kind == KindArray {
		if v.elemKind != c.elemKind || len(v.arr) != len(c.arr) {
			return WriteTypeMismatch
		}
		for i, e := range v.arr {
			c.arr[i].Store(e)
		}
		return WriteOk
	}
	c.writeScalarOrString(v)
	return WriteOk
}

func (c *Cell) writeScalarOrString(v Value) {
	if c.kind == KindString {
		c.strMu.Lock()
		c.str = v.s
		c.strMu.Unlock()
		return
	}
	c.scalar.Store(v)
}

// GetElement reads a single array element. Returns None (not an
// error) if i is out of bounds, per spec.md boundary behavior #14.
func (c *Cell) GetElement(i int) Value {
	if c.kind != KindArray || i < 0 || i >= len(c.arr) {
		return None()
	}
	return c.arr[i].Load().(Value)
}

// SetElement writes a single array element. Returns WriteTypeMismatch
// if the cell is not an array, the index is out of bounds, or v's
// kind does not match the array's element kind.
func (c *Cell) SetElement(i int, v Value) WriteOutcome {
	if c.kind != KindArray || i < 0 || i >= len(c.arr) || v.kind != c.elemKind {
		return WriteTypeMismatch
	}
	c.arr[i].Store(v)
	return WriteOk
}

// ShallowClone returns a new reference to the same underlying
// storage. Subscribers hold shallow clones: a write by the owner
// through either reference is observed by reads through the other,
// without any further message exchange.
func (c *Cell) ShallowClone() *Cell {
	return c
}

// Diff is the result of ValueCell.ReadDiff: either a full scalar
// Value, or a sparse list of changed array elements.
type Diff struct {
	Scalar       *Value
	ArrayChanges []IndexedValue
}

// IndexedValue is one changed element of an array diff.
type IndexedValue struct {
	Index int
	Value Value
}

// IsEmpty reports whether the diff carries no changes at all.
func (d Diff) IsEmpty() bool {
	return d.Scalar == nil && len(d.ArrayChanges) == 0
}

// ReadDiff is used by the websocket collaborator to avoid re-sending
// values a subscriber already has cached. cache holds the
// subscriber's last-observed Value; ReadDiff returns the changed
// parts. For scalars, it returns a Diff with Scalar set iff the
// current value differs from cache. For arrays, it returns a sparse
// list of (index, new value) pairs for elements that changed; an
// empty Diff if nothing changed.
func (c *Cell) ReadDiff(cache Value) Diff {
	if c.kind == KindArray {
		var changes []IndexedValue
		for i := range c.arr {
			cur := c.arr[i].Load().(Value)
			var prior Value
			if i < len(cache.arr) {
				prior = cache.arr[i]
			}
			if !valuesEqual(cur, prior) {
				changes = append(changes, IndexedValue{Index: i, Value: cur})
			}
		}
		return Diff{ArrayChanges: changes}
	}

	cur := c.Read()
	if valuesEqual(cur, cache) {
		return Diff{}
	}
	v := cur
	return Diff{Scalar: &v}
}

func valuesEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNone:
		return true
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindBool:
		return a.b == b.b
	case KindDuration:
		return a.dur == b.dur
	case KindString:
		return a.s == b.s
	default:
		return false
	}
}
