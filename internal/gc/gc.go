// Package gc implements the tracing mark-sweep collector: a tri-color
// worklist algorithm over the intrusive list of every heap object allocated
// through it, driven explicitly by the VM (which checks ShouldCollect before
// each instruction; the Alloc* methods never start a collection) rather
// than by Go's own runtime collector, which could not honor the
// deterministic GC-cycle test properties the language's design calls for.
package gc

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"trilox/internal/htable"
	"trilox/internal/value"
)

const defaultHeapGrowthFactor = 2
const defaultInitialThreshold = 1024 * 1024 // 1 MiB

// Collector keeps every object allocated through its Alloc* methods on the
// intrusive all-objects list used by sweep, and counts their sizes in
// bytesAllocated. Objects built directly elsewhere (compiler constants,
// strings returned by natives, upvalues captured by the VM) are not on that
// list and are never swept.
type Collector struct {
	objects        value.Obj
	strings        *htable.Table
	gray           []value.Obj
	bytesAllocated int64
	nextGC         int64

	// HeapGrowthFactor and the initial value of nextGC are configurable per
	// Collector (set at construction by vm.NewWithConfig) rather than fixed
	// package constants, so a host can tune GC pressure per VM instance.
	HeapGrowthFactor int64

	StressGC bool
	LogGC    bool
	Label    string // included in GC log lines to identify the owning VM
}

func New() *Collector {
	return NewWithThreshold(defaultInitialThreshold, defaultHeapGrowthFactor)
}

// NewWithThreshold constructs a Collector with an explicit initial
// bytesAllocated threshold and heap growth factor, used by vm.NewWithConfig.
func NewWithThreshold(initialThreshold, heapGrowthFactor int64) *Collector {
	if heapGrowthFactor <= 0 {
		heapGrowthFactor = defaultHeapGrowthFactor
	}
	return &Collector{
		strings:          htable.New(),
		nextGC:           initialThreshold,
		HeapGrowthFactor: heapGrowthFactor,
	}
}

func objectSize(o value.Obj) int64 {
	switch obj := o.(type) {
	case *value.ObjString:
		return int64(24 + len(obj.Chars))
	case *value.ObjArray:
		return int64(24 + 16*len(obj.Values))
	case *value.ObjTable:
		return 48
	case *value.ObjClosure:
		return int64(24 + 8*len(obj.Upvalues))
	default:
		return 32
	}
}

func (c *Collector) track(o value.Obj) {
	o.Header().Next = c.objects
	c.objects = o
	c.bytesAllocated += objectSize(o)
}

func (c *Collector) maybeCollect(markRoots func(mark func(value.Value))) {
	if markRoots != nil && c.ShouldCollect() {
		c.Collect(markRoots)
	}
}

// AllocString interns s: an existing ObjString with identical content is
// reused, matching the original allocator's copyString/takeString
// deduplication via the string table.
func (c *Collector) AllocString(s string) value.Value {
	hash := value.HashString(s)
	if existing := c.strings.FindString(s, hash); existing != nil {
		return value.NewObject(existing)
	}
	obj := &value.ObjString{Chars: s, Hash: hash}
	c.track(obj)
	// No collection can run between track and Set: the collector only
	// collects when Collect is called, never from inside an allocation.
	c.strings.Set(obj, value.Nil())
	return value.NewObject(obj)
}

func (c *Collector) AllocFunction(fn *value.ObjFunction) value.Value {
	c.track(fn)
	return value.NewObject(fn)
}

func (c *Collector) AllocClosure(cl *value.ObjClosure) value.Value {
	c.track(cl)
	return value.NewObject(cl)
}

func (c *Collector) AllocUpvalue(uv *value.ObjUpvalue) value.Value {
	c.track(uv)
	return value.NewObject(uv)
}

func (c *Collector) AllocArray(vals []value.Value) value.Value {
	arr := &value.ObjArray{Values: vals}
	c.track(arr)
	return value.NewObject(arr)
}

func (c *Collector) AllocTable() value.Value {
	tbl := &value.ObjTable{Table: htable.New()}
	c.track(tbl)
	return value.NewObject(tbl)
}

func (c *Collector) AllocNative(name string, fn value.NativeFunc) value.Value {
	n := &value.ObjNative{Name: name, Fn: fn}
	c.track(n)
	return value.NewObject(n)
}

// ShouldCollect reports whether bytesAllocated has crossed the next-GC
// threshold; with StressGC set it is always true, so the VM collects before
// every instruction. Allocation itself never calls it.
func (c *Collector) ShouldCollect() bool {
	return c.StressGC || c.bytesAllocated > c.nextGC
}

// MarkValue marks v's object payload (a no-op for Nil/Logic/Number).
func (c *Collector) MarkValue(v value.Value) {
	if v.Type == value.ObjType && v.Object != nil {
		c.MarkObject(v.Object)
	}
}

// MarkObject grays o if it was white, adding it to the worklist.
func (c *Collector) MarkObject(o value.Obj) {
	if o == nil {
		return
	}
	h := o.Header()
	if h.Marked {
		return
	}
	h.Marked = true
	c.gray = append(c.gray, o)
}

func (c *Collector) blacken(o value.Obj) {
	switch obj := o.(type) {
	case *value.ObjFunction:
		if obj.Chunk != nil {
			for _, v := range obj.Chunk.GetConstants() {
				c.MarkValue(v)
			}
		}
	case *value.ObjClosure:
		c.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				c.MarkObject(uv)
			}
		}
	case *value.ObjUpvalue:
		c.MarkValue(obj.Closed)
	case *value.ObjArray:
		for _, v := range obj.Values {
			c.MarkValue(v)
		}
	case *value.ObjTable:
		obj.Table.Each(func(k *value.ObjString, v value.Value) {
			c.MarkObject(k)
			c.MarkValue(v)
		})
	case *value.ObjString, *value.ObjNative:
		// leaves: no references to trace
	}
}

func (c *Collector) traceReferences() {
	for len(c.gray) > 0 {
		o := c.gray[len(c.gray)-1]
		c.gray = c.gray[:len(c.gray)-1]
		c.blacken(o)
	}
}

func (c *Collector) sweep() {
	var previous value.Obj
	obj := c.objects
	for obj != nil {
		h := obj.Header()
		if h.Marked {
			h.Marked = false
			previous = obj
			obj = h.Next
			continue
		}
		unreached := obj
		obj = h.Next
		if previous != nil {
			previous.Header().Next = obj
		} else {
			c.objects = obj
		}
		c.bytesAllocated -= objectSize(unreached)
	}
}

// Collect runs one full mark-sweep cycle. markRoots is supplied by the
// caller (the VM) and must call mark once per root value: every stack
// slot, every active closure, every open upvalue, and the globals table.
// The compiler is not a root: it allocates nothing through the collector
// and has finished before the VM runs.
func (c *Collector) Collect(markRoots func(mark func(value.Value))) {
	before := c.bytesAllocated
	markRoots(c.MarkValue)
	c.traceReferences()
	c.strings.RemoveWhite(func(k *value.ObjString) bool {
		return k.Marked
	})
	c.sweep()
	c.nextGC = c.bytesAllocated * c.HeapGrowthFactor
	if c.LogGC {
		fmt.Printf("[gc %s] %s -> %s, next at %s\n", c.Label,
			humanize.Bytes(uint64(max64(before, 0))),
			humanize.Bytes(uint64(max64(c.bytesAllocated, 0))),
			humanize.Bytes(uint64(max64(c.nextGC, 0))))
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
