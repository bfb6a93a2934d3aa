package value

// ObjKind discriminates the heap Object payload types.
type ObjKind int

const (
	KindString ObjKind = iota
	KindFunction
	KindClosure
	KindUpvalue
	KindArray
	KindTable
	KindNative
)

// StringTable is the minimal interface ObjTable needs from the hash-table
// package, broken out here to avoid value <-> htable import cycles: htable
// depends on value for its Value payload type, so value cannot import
// htable back. Object carries the table as this interface instead.
type StringTable interface {
	Get(key *ObjString) (Value, bool)
	Set(key *ObjString, v Value) bool
	Delete(key *ObjString) bool
	Count() int
	NthEntry(n int) (key *ObjString, v Value, ok bool)
	Each(func(key *ObjString, v Value))
	// FindString looks a key up by content rather than pointer identity,
	// for callers (switch jump tables) holding a key built independently
	// of whatever interning table produced the table's own keys.
	FindString(chars string, hash uint32) *ObjString
}

// ChunkConstants is the sliver of *chunk.Chunk the GC needs in order to
// trace a function's constant pool, broken out as an interface (rather than
// importing internal/chunk directly) to avoid the function->chunk->value
// import cycle: a Chunk's constants are Values, and a Value's object
// payload can itself be a function whose body is a Chunk.
type ChunkConstants interface {
	GetConstants() []Value
}

// ObjHeader is the common heap header every GC-managed object embeds: a
// mark bit for the tracing collector and the intrusive next-pointer used to
// walk every live allocation during sweep. Embedding it (rather than a
// Data-interface{} wrapper) keeps one canonical, addressable header per
// allocation, so the mark bit set on an interned *ObjString is the same bit
// every later reference observes.
type ObjHeader struct {
	Marked bool
	Next   Obj
}

func (h *ObjHeader) Header() *ObjHeader { return h }

// Obj is implemented by every heap-allocated payload type.
type Obj interface {
	Header() *ObjHeader
	ObjKind() ObjKind
}

type ObjString struct {
	ObjHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) ObjKind() ObjKind { return KindString }

// HashString computes the FNV-1a hash used throughout the runtime for
// string interning, using the exact 32-bit offset/prime constants of the
// original implementation.
func HashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// ObjFunction.Chunk is a ChunkConstants rather than *chunk.Chunk for the
// reason documented on that interface. Callers in internal/compiler and
// internal/vm type-assert it back to *chunk.Chunk when they need more than
// the constant pool.
type ObjFunction struct {
	ObjHeader
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        ChunkConstants
}

func (f *ObjFunction) ObjKind() ObjKind { return KindFunction }

type NativeFunc func(args []Value) (Value, error)

type ObjNative struct {
	ObjHeader
	Name string
	Fn   NativeFunc
}

func (n *ObjNative) ObjKind() ObjKind { return KindNative }

type ObjUpvalue struct {
	ObjHeader
	Location *Value // points into a live stack slot while open
	Closed   Value  // holds the value once closed
	NextOpen *ObjUpvalue
}

func (u *ObjUpvalue) ObjKind() ObjKind { return KindUpvalue }

type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) ObjKind() ObjKind { return KindClosure }

type ObjArray struct {
	ObjHeader
	Values []Value
}

func (a *ObjArray) ObjKind() ObjKind { return KindArray }

type ObjTable struct {
	ObjHeader
	Table StringTable
}

func (t *ObjTable) ObjKind() ObjKind { return KindTable }
