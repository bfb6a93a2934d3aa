// Package vm implements the stack-based bytecode interpreter: call frames,
// value stack, dispatch loop, and the allocator wiring into internal/gc.
// Grounded line-by-line on original_source/source/vm.c, restructured into
// the teacher's (noxy-vm) Go idiom: a fixed-size frame array, a fixed-size
// value stack, hot state (ip, chunk) cached in locals; ip is written back
// to the frame at the start of every instruction, and both are reloaded
// from the active frame after CALL and RETURN.
package vm

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/google/uuid"

	"trilox/internal/chunk"
	"trilox/internal/compiler"
	"trilox/internal/gc"
	"trilox/internal/htable"
	"trilox/internal/value"
)

const StackMax = 2048
const FramesMax = 64

// CallFrame is one activation record: Slots is the stack index of slot 0
// (the callee itself), matching spec's `slots = stack.top - argc - 1`.
type CallFrame struct {
	Closure *value.ObjClosure
	IP      int
	Slots   int
}

// Config mirrors the teacher's VMConfig pattern, extended with the GC
// tuning knobs the collector now exposes per instance.
type Config struct {
	RootPath           string
	StressGC           bool
	LogGC              bool
	HeapGrowthFactor   int64
	InitialGCThreshold int64
}

// RuntimeError is returned by Run/Interpret for any ordinary, user-catchable
// failure: arithmetic type mismatches, wrong arity, undefined globals,
// out-of-range indices, calling a non-callable. Its Error() string already
// contains the full unwound frame trace.
type RuntimeError struct {
	Message string
	Trace   []string
}

func (e *RuntimeError) Error() string {
	if len(e.Trace) == 0 {
		return e.Message
	}
	return e.Message + "\n" + strings.Join(e.Trace, "\n")
}

// InternalError reports an implementation bug (stack underflow, out-of-
// bounds chunk read): never catchable by the interpreted program.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "internal error: " + e.Message }

// VM owns the value stack, call-frame array, globals table, and the
// garbage collector driving every heap allocation it makes.
type VM struct {
	frames     [FramesMax]*CallFrame
	frameCount int

	stack    [StackMax]value.Value
	stackTop int

	globals      *htable.Table
	openUpvalues *value.ObjUpvalue

	gc *gc.Collector

	Config    Config
	SessionID uuid.UUID
}

func New() *VM { return NewWithConfig(Config{RootPath: "."}) }

func NewWithConfig(cfg Config) *VM {
	if cfg.HeapGrowthFactor <= 0 {
		cfg.HeapGrowthFactor = 2
	}
	if cfg.InitialGCThreshold <= 0 {
		cfg.InitialGCThreshold = 1024 * 1024
	}
	collector := gc.NewWithThreshold(cfg.InitialGCThreshold, cfg.HeapGrowthFactor)
	id := uuid.New()
	collector.StressGC = cfg.StressGC
	collector.LogGC = cfg.LogGC
	collector.Label = id.String()
	return &VM{
		globals:   htable.New(),
		gc:        collector,
		Config:    cfg,
		SessionID: id,
	}
}

// DefineNative binds name as a global bound to a native Go function,
// matching spec's `defineNative(name, fn)` host surface.
func (vm *VM) DefineNative(name string, fn value.NativeFunc) {
	key := vm.intern(name)
	native := vm.gc.AllocNative(name, fn)
	vm.globals.Set(key.AsString(), native)
}

// SetGlobal installs val under name unconditionally (define-or-redefine),
// used by hosts that want to seed globals before Interpret.
func (vm *VM) SetGlobal(name string, val value.Value) {
	key := vm.intern(name)
	vm.globals.Set(key.AsString(), val)
}

func (vm *VM) GetGlobal(name string) (value.Value, bool) {
	key := vm.intern(name)
	return vm.globals.Get(key.AsString())
}

func (vm *VM) intern(s string) value.Value { return vm.gc.AllocString(s) }

// canonicalKey re-resolves a chunk-constant ObjString (built fresh by the
// compiler, which holds no reference to any VM's interning table) through
// this VM's string table, so it can be used as a globals/table key via the
// table's pointer-identity lookup. See compiler.internString's doc comment.
func (vm *VM) canonicalKey(s *value.ObjString) *value.ObjString {
	return vm.intern(s.Chars).AsString()
}

// canonicalizeConstant re-interns string constants read off the chunk's
// constant pool through this VM's string table (see canonicalKey); every
// other constant kind (number, template array/table, function) passes
// through unchanged.
func (vm *VM) canonicalizeConstant(v value.Value) value.Value {
	if v.IsString() {
		return vm.intern(v.StringValue())
	}
	return v
}

// Interpret compiles source under filename and runs it to completion on v,
// matching §6's `interpret(source, filename, vm) -> {OK|CompileError|
// RuntimeError}` trichotomy via Go's error return (nil on OK). A
// *compiler.CompileError distinguishes a compile failure from the
// *RuntimeError/*InternalError a failed run produces.
func Interpret(v *VM, source, filename string) error {
	fn, err := compiler.Compile(source, filename)
	if err != nil {
		return err
	}
	return v.Interpret(fn)
}

// Interpret runs a freshly compiled script function: push it, wrap it in a
// Closure, install the base CallFrame, run. Grounded on vm.c's interpret().
func (vm *VM) Interpret(fn *value.ObjFunction) error {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil

	fnVal := vm.gc.AllocFunction(fn)
	vm.push(fnVal)
	closure := &value.ObjClosure{Function: fn, Upvalues: nil}
	closureVal := vm.gc.AllocClosure(closure)
	vm.pop()
	vm.push(closureVal)

	if ok, err := vm.call(closure, 0); !ok {
		return err
	}
	return vm.run()
}

func (vm *VM) push(v value.Value) {
	if vm.stackTop >= StackMax {
		panic(&InternalError{Message: "stack overflow"})
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	v := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = value.Value{}
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) currentFrame() *CallFrame { return vm.frames[vm.frameCount-1] }

// runtimeError formats the failing instruction's source line, followed by
// one trace line per active call frame, matching §7's unwound stack trace.
func (vm *VM) runtimeError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	var trace []string
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := vm.frames[i]
		c := frame.Closure.Function.Chunk.(*chunk.Chunk)
		line := 0
		if frame.IP > 0 && frame.IP <= len(c.Lines) {
			line = c.Lines[frame.IP-1]
		}
		name := frame.Closure.Function.Name
		if name == "" {
			name = "script"
		} else {
			name = name + "()"
		}
		trace = append(trace, fmt.Sprintf("[%s:line %d] in %s", c.FileName, line, name))
	}
	return &RuntimeError{Message: msg, Trace: trace}
}

// maybeCollect runs a collection cycle when the collector's threshold (or
// its StressGC debug flag) says to. Roots are every stack slot, every
// active frame's closure, the open-upvalue list, and the globals table.
func (vm *VM) maybeCollect() {
	if vm.gc.ShouldCollect() {
		vm.gc.Collect(vm.markRoots)
	}
}

func (vm *VM) markRoots(mark func(value.Value)) {
	for i := 0; i < vm.stackTop; i++ {
		mark(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		mark(value.NewObject(vm.frames[i].Closure))
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		mark(value.NewObject(uv))
	}
	vm.globals.Each(func(k *value.ObjString, v value.Value) {
		mark(value.NewObject(k))
		mark(v)
	})
}

var defaultSwitchKey = &value.ObjString{Chars: "___internal_switch_default", Hash: value.HashString("___internal_switch_default")}

// run is the main dispatch loop: one switch over opcodes, hot state (ip,
// chunk) cached in locals and flushed to the frame on call/return.
func (vm *VM) run() error {
	frame := vm.currentFrame()
	c := frame.Closure.Function.Chunk.(*chunk.Chunk)
	ip := frame.IP

	readByte := func() byte {
		b := c.Code[ip]
		ip++
		return b
	}
	readShort := func() int {
		hi, lo := c.Code[ip], c.Code[ip+1]
		ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func(idx int) value.Value { return c.Constants[idx] }

	for {
		if ip >= len(c.Code) {
			return &InternalError{Message: "ip ran past end of chunk"}
		}
		vm.maybeCollect()
		frame.IP = ip
		op := chunk.OpCode(readByte())

		switch op {
		case chunk.OP_NIL:
			vm.push(value.Nil())
		case chunk.OP_FALSE:
			vm.push(value.NewLogic(value.False))
		case chunk.OP_UNKNOWN:
			vm.push(value.NewLogic(value.Unknown))
		case chunk.OP_TRUE:
			vm.push(value.NewLogic(value.True))
		case chunk.OP_PUSH_1:
			vm.push(value.NewNumber(1))
		case chunk.OP_CONSTANT:
			vm.push(vm.canonicalizeConstant(readConstant(int(readByte()))))
		case chunk.OP_CONSTANT_16:
			vm.push(vm.canonicalizeConstant(readConstant(readShort())))
		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_NEGATE:
			v := vm.pop()
			if !v.IsNumber() {
				frame.IP = ip
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.NewNumber(-v.Num))

		case chunk.OP_KP_NOT:
			v := vm.pop()
			if v.IsLogic() {
				vm.push(value.NewLogic(value.Not(v.Logic)))
			} else {
				vm.push(value.NewLogic(value.Unknown))
			}

		case chunk.OP_KP_AND, chunk.OP_KP_OR, chunk.OP_KP_XOR:
			b := vm.pop()
			a := vm.pop()
			if !a.IsLogic() || !b.IsLogic() {
				vm.push(value.NewLogic(value.Unknown))
				break
			}
			switch op {
			case chunk.OP_KP_AND:
				vm.push(value.NewLogic(value.And(a.Logic, b.Logic)))
			case chunk.OP_KP_OR:
				vm.push(value.NewLogic(value.Or(a.Logic, b.Logic)))
			case chunk.OP_KP_XOR:
				vm.push(value.NewLogic(value.Xor(a.Logic, b.Logic)))
			}

		case chunk.OP_COMPARE, chunk.OP_KP_LESS_THAN, chunk.OP_KP_LT_EQUAL,
			chunk.OP_KP_GREAT_THAN, chunk.OP_KP_GT_EQUAL:
			b := vm.pop()
			a := vm.pop()
			ord, ordered := compareValues(a, b)
			if !ordered {
				vm.push(value.NewLogic(value.Unknown))
				break
			}
			vm.push(value.NewLogic(orderLogic(op, ord)))

		case chunk.OP_KP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewLogic(equalValues(a, b)))
		case chunk.OP_KP_NOT_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewLogic(value.Not(equalValues(a, b))))

		case chunk.OP_ADD:
			b := vm.pop()
			a := vm.pop()
			switch {
			case a.IsString() && b.IsString():
				vm.push(vm.intern(a.StringValue() + b.StringValue()))
			case a.IsNumber() && b.IsNumber():
				vm.push(value.NewNumber(a.Num + b.Num))
			default:
				frame.IP = ip
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}

		case chunk.OP_SUBTRACT, chunk.OP_MULTIPLY, chunk.OP_DIVIDE, chunk.OP_MODULO, chunk.OP_EXPONENTIAL:
			b := vm.pop()
			a := vm.pop()
			if !a.IsNumber() || !b.IsNumber() {
				frame.IP = ip
				return vm.runtimeError("Operands must be numbers.")
			}
			var r float64
			switch op {
			case chunk.OP_SUBTRACT:
				r = a.Num - b.Num
			case chunk.OP_MULTIPLY:
				r = a.Num * b.Num
			case chunk.OP_DIVIDE:
				r = a.Num / b.Num
			case chunk.OP_MODULO:
				r = math.Mod(a.Num, b.Num)
			case chunk.OP_EXPONENTIAL:
				r = math.Pow(a.Num, b.Num)
			}
			vm.push(value.NewNumber(r))

		case chunk.OP_DEFINE_GLOBAL:
			name := vm.canonicalKey(readConstant(int(readByte())).AsString())
			vm.globals.Set(name, vm.pop())
		case chunk.OP_DEFINE_GLOBAL_16:
			name := vm.canonicalKey(readConstant(readShort()).AsString())
			vm.globals.Set(name, vm.pop())

		case chunk.OP_SET_GLOBAL:
			name := vm.canonicalKey(readConstant(int(readByte())).AsString())
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				frame.IP = ip
				return vm.runtimeError("Tried to assign an undefined variable.")
			}
		case chunk.OP_SET_GLOBAL_16:
			name := vm.canonicalKey(readConstant(readShort()).AsString())
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				frame.IP = ip
				return vm.runtimeError("Tried to assign an undefined variable.")
			}

		case chunk.OP_GET_GLOBAL:
			name := vm.canonicalKey(readConstant(int(readByte())).AsString())
			v, ok := vm.globals.Get(name)
			if !ok {
				frame.IP = ip
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case chunk.OP_GET_GLOBAL_16:
			name := vm.canonicalKey(readConstant(readShort()).AsString())
			v, ok := vm.globals.Get(name)
			if !ok {
				frame.IP = ip
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)

		case chunk.OP_SET_LOCAL:
			slot := int(readByte())
			vm.stack[frame.Slots+slot] = vm.peek(0)
		case chunk.OP_GET_LOCAL:
			slot := int(readByte())
			vm.push(vm.stack[frame.Slots+slot])

		case chunk.OP_SET_UPVALUE:
			slot := int(readByte())
			*frame.Closure.Upvalues[slot].Location = vm.peek(0)
		case chunk.OP_GET_UPVALUE:
			slot := int(readByte())
			vm.push(*frame.Closure.Upvalues[slot].Location)

		case chunk.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case chunk.OP_SET_ARRAY:
			val := vm.peek(0)
			idxV := vm.peek(1)
			arrV := vm.peek(2)
			if !idxV.IsNumber() {
				frame.IP = ip
				return vm.runtimeError("Array index must be a number.")
			}
			if !arrV.IsArray() {
				frame.IP = ip
				return vm.runtimeError("Can only index into an array.")
			}
			idx := int(math.RoundToEven(idxV.Num))
			if idx < 1 {
				frame.IP = ip
				return vm.runtimeError("Invalid index for array.")
			}
			arr := arrV.AsArray()
			if idx > len(arr.Values) {
				for len(arr.Values) < idx-1 {
					arr.Values = append(arr.Values, value.Nil())
				}
				arr.Values = append(arr.Values, val)
			} else {
				arr.Values[idx-1] = val
			}
			vm.pop()
			vm.pop()

		case chunk.OP_GET_ARRAY:
			idxV := vm.pop()
			arrV := vm.pop()
			if !idxV.IsNumber() {
				frame.IP = ip
				return vm.runtimeError("Array index must be a number.")
			}
			if !arrV.IsArray() {
				frame.IP = ip
				return vm.runtimeError("Can only index into an array.")
			}
			idx := int(math.RoundToEven(idxV.Num))
			arr := arrV.AsArray()
			if idx < 1 || idx > len(arr.Values) {
				frame.IP = ip
				return vm.runtimeError("Array index out of range.")
			}
			vm.push(arr.Values[idx-1])

		case chunk.OP_GET_ARRAY_LOOP:
			idxV := vm.pop()
			container := vm.peek(0)
			idx := int(math.RoundToEven(idxV.Num))
			switch {
			case container.IsArray():
				arr := container.AsArray()
				if idx < 1 || idx > len(arr.Values) {
					frame.IP = ip
					return vm.runtimeError("Array index out of range.")
				}
				vm.push(arr.Values[idx-1])
			case container.IsTable():
				_, v, ok := container.AsTable().Table.NthEntry(idx - 1)
				if !ok {
					frame.IP = ip
					return vm.runtimeError("Table index out of range.")
				}
				vm.push(v)
			default:
				frame.IP = ip
				return vm.runtimeError("Can only iterate arrays and tables.")
			}

		case chunk.OP_GET_ARRAY_COUNT:
			container := vm.peek(0)
			switch {
			case container.IsArray():
				vm.push(value.NewNumber(float64(len(container.AsArray().Values))))
			case container.IsTable():
				vm.push(value.NewNumber(float64(container.AsTable().Table.Count())))
			default:
				frame.IP = ip
				return vm.runtimeError("Can only count arrays and tables.")
			}

		case chunk.OP_COLLECT:
			n := int(readByte())
			elems := make([]value.Value, n)
			copy(elems, vm.stack[vm.stackTop-n:vm.stackTop])
			vm.stackTop -= n
			vm.peek(0).AsArray().Values = elems

		case chunk.OP_TABLE_SET:
			key := vm.canonicalKey(readConstant(int(readByte())).AsString())
			val := vm.pop()
			vm.peek(0).AsTable().Table.Set(key, val)
		case chunk.OP_TABLE_SET_16:
			key := vm.canonicalKey(readConstant(readShort()).AsString())
			val := vm.pop()
			vm.peek(0).AsTable().Table.Set(key, val)

		case chunk.OP_TABLE_CLC_SET:
			val := vm.pop()
			keyV := vm.pop()
			tblV := vm.peek(0)
			if !keyV.IsString() {
				frame.IP = ip
				return vm.runtimeError("Table key must be a string.")
			}
			if !tblV.IsTable() {
				frame.IP = ip
				return vm.runtimeError("Can only index into a table.")
			}
			tblV.AsTable().Table.Set(keyV.AsString(), val)

		case chunk.OP_TABLE_CLC_GET:
			keyV := vm.pop()
			tblV := vm.pop()
			if !keyV.IsString() {
				frame.IP = ip
				return vm.runtimeError("Table key must be a string.")
			}
			if !tblV.IsTable() {
				frame.IP = ip
				return vm.runtimeError("Can only index into a table.")
			}
			v, ok := tblV.AsTable().Table.Get(keyV.AsString())
			if !ok {
				v = value.Nil()
			}
			vm.push(v)

		case chunk.OP_JUMP:
			offset := readShort()
			ip += offset
		case chunk.OP_LOOP:
			offset := readShort()
			ip -= offset

		case chunk.OP_JUMP_IF_FALSE:
			offset := readShort()
			if value.Not(toLogic(vm.peek(0))) == value.True {
				ip += offset
			}
		case chunk.OP_JUMP_IF_UNKNOWN:
			offset := readShort()
			if value.Not(toLogic(vm.peek(0))) == value.Unknown {
				ip += offset
			}
		case chunk.OP_JUMP_IF_TRUE:
			offset := readShort()
			if value.Not(toLogic(vm.peek(0))) == value.False {
				ip += offset
			}
		case chunk.OP_JUMP_IF_NOT_TRUE:
			offset := readShort()
			if value.Not(toLogic(vm.peek(0))) != value.False {
				ip += offset
			}

		case chunk.OP_JUMP_TABLE_JUMP:
			tblIdx := int(readByte())
			table := c.GetJumpTable(tblIdx)
			subject := vm.peek(0)
			var off value.Value
			var ok bool
			// Jump-table keys are built directly by the compiler (it holds
			// no VM to intern through), so matching must go by content via
			// FindString rather than the table's normal pointer-identity Get.
			if subject.IsString() {
				if key := table.FindString(subject.StringValue(), subject.AsString().Hash); key != nil {
					off, ok = table.Get(key)
				}
			}
			if !ok {
				if key := table.FindString(defaultSwitchKey.Chars, defaultSwitchKey.Hash); key != nil {
					off, ok = table.Get(key)
				}
				if !ok {
					frame.IP = ip
					return &InternalError{Message: "switch jump table missing default entry"}
				}
			}
			ip += int(off.Num)

		case chunk.OP_CALL:
			argCount := int(readByte())
			frame.IP = ip
			ok, err := vm.callValue(vm.peek(argCount), argCount)
			if !ok {
				return err
			}
			frame = vm.currentFrame()
			c = frame.Closure.Function.Chunk.(*chunk.Chunk)
			ip = frame.IP

		case chunk.OP_CLOSURE:
			fn := readConstant(int(readByte())).AsFunction()
			ip = vm.makeClosure(fn, c, ip)
		case chunk.OP_CLOSURE_16:
			fn := readConstant(readShort()).AsFunction()
			ip = vm.makeClosure(fn, c, ip)

		case chunk.OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.Slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.Slots
			vm.push(result)
			frame = vm.currentFrame()
			c = frame.Closure.Function.Chunk.(*chunk.Chunk)
			ip = frame.IP

		default:
			frame.IP = ip
			return &InternalError{Message: fmt.Sprintf("unknown opcode %d", byte(op))}
		}
	}
}

// makeClosure reads the (isLocal, index) upvalue descriptor pairs following
// a CLOSURE[_16] instruction and returns the advanced ip.
func (vm *VM) makeClosure(fn *value.ObjFunction, c *chunk.Chunk, ip int) int {
	upvalueCount := fn.UpvalueCount
	upvalues := make([]*value.ObjUpvalue, upvalueCount)
	closure := &value.ObjClosure{Function: fn, Upvalues: upvalues}
	closureVal := vm.gc.AllocClosure(closure)
	vm.push(closureVal)

	frame := vm.currentFrame()
	for i := 0; i < upvalueCount; i++ {
		isLocal := c.Code[ip] != 0
		ip++
		index := int(c.Code[ip])
		ip++
		if isLocal {
			upvalues[i] = vm.captureUpvalue(frame.Slots + index)
		} else {
			upvalues[i] = frame.Closure.Upvalues[index]
		}
	}
	return ip
}

// slotOf reports the stack index a live, open upvalue's Location points at,
// recovered via pointer arithmetic against the stack array's base address
// since Location is a raw *Value into that array while open.
func (vm *VM) slotOf(loc *value.Value) int {
	base := uintptr(unsafe.Pointer(&vm.stack[0]))
	return int((uintptr(unsafe.Pointer(loc)) - base) / unsafe.Sizeof(vm.stack[0]))
}

// captureUpvalue finds or creates an open upvalue rooted at stack index
// slot, keeping the open-upvalue list in strictly descending slot order.
func (vm *VM) captureUpvalue(slot int) *value.ObjUpvalue {
	var prev *value.ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && vm.slotOf(cur.Location) > slot {
		prev = cur
		cur = cur.NextOpen
	}
	if cur != nil && vm.slotOf(cur.Location) == slot {
		return cur
	}
	created := &value.ObjUpvalue{Location: &vm.stack[slot], NextOpen: cur}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes (copies value inline, retargets Location) every open
// upvalue rooted at or above boundary.
func (vm *VM) closeUpvalues(boundary int) {
	for vm.openUpvalues != nil && vm.slotOf(vm.openUpvalues.Location) >= boundary {
		uv := vm.openUpvalues
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		vm.openUpvalues = uv.NextOpen
	}
}

func (vm *VM) callValue(callee value.Value, argCount int) (bool, error) {
	if callee.IsClosure() {
		return vm.call(callee.AsClosure(), argCount)
	}
	if callee.IsNative() {
		native := callee.AsNative()
		args := make([]value.Value, argCount)
		copy(args, vm.stack[vm.stackTop-argCount:vm.stackTop])
		result, err := native.Fn(args)
		if err != nil {
			return false, vm.runtimeError("%s", err.Error())
		}
		vm.stackTop -= argCount + 1
		// A native builds its own ObjString outside this VM's string table
		// (see natives.Registry), so equalValues' pointer-identity check
		// would see it as distinct from an identical chunk constant unless
		// it is canonicalized the same way constants are.
		vm.push(vm.canonicalizeConstant(result))
		return true, nil
	}
	return false, vm.runtimeError("Can only call functions.")
}

func (vm *VM) call(closure *value.ObjClosure, argCount int) (bool, error) {
	fn := closure.Function
	if argCount != fn.Arity {
		return false, vm.runtimeError("Wrong number of arguments: expected %d but got %d.", fn.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return false, vm.runtimeError("Stack overflow.")
	}
	frame := &CallFrame{
		Closure: closure,
		IP:      0,
		Slots:   vm.stackTop - argCount - 1,
	}
	vm.frames[vm.frameCount] = frame
	vm.frameCount++
	return true, nil
}

func toLogic(v value.Value) value.Logic {
	if v.IsLogic() {
		return v.Logic
	}
	return value.Unknown
}

// equalValues implements §4.2's EQUAL predicate: compares within-type by
// value for number/logic, by identity for objects; cross-type and any Nil
// comparison (including Nil==Nil) yields Unknown.
func equalValues(a, b value.Value) value.Logic {
	if a.Type != b.Type {
		return value.Unknown
	}
	switch a.Type {
	case value.NilType:
		return value.Unknown
	case value.LogicType:
		return value.NewBool(a.Logic == b.Logic).Logic
	case value.NumberType:
		return value.NewBool(a.Num == b.Num).Logic
	case value.ObjType:
		return value.NewBool(a.Object == b.Object).Logic
	default:
		return value.Unknown
	}
}

// compareValues implements §4.2's ordering predicate: numeric by value,
// strings by length, arrays/tables by item count. Nil, Logic, cross-type,
// and any other object pairing are not ordered: the second return is false
// and the caller pushes Unknown directly, matching ternaryCompare/
// valuesLessThan/valuesGreaterThan in original_source/source/logic.c, none
// of which ever raise an error for a type mismatch.
func compareValues(a, b value.Value) (int, bool) {
	switch {
	case a.IsNumber() && b.IsNumber():
		return compareFloats(a.Num, b.Num), true
	case a.IsString() && b.IsString():
		return compareInts(len(a.StringValue()), len(b.StringValue())), true
	case a.IsArray() && b.IsArray():
		return compareInts(len(a.AsArray().Values), len(b.AsArray().Values)), true
	case a.IsTable() && b.IsTable():
		return compareInts(a.AsTable().Table.Count(), b.AsTable().Table.Count()), true
	default:
		return 0, false
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// orderLogic maps a three-way comparison result to the ternary-logic value
// the requesting opcode asks for.
func orderLogic(op chunk.OpCode, ord int) value.Logic {
	switch op {
	case chunk.OP_COMPARE, chunk.OP_KP_LESS_THAN:
		return value.NewBool(ord < 0).Logic
	case chunk.OP_KP_LT_EQUAL:
		return value.NewBool(ord <= 0).Logic
	case chunk.OP_KP_GREAT_THAN:
		return value.NewBool(ord > 0).Logic
	case chunk.OP_KP_GT_EQUAL:
		return value.NewBool(ord >= 0).Logic
	default:
		return value.Unknown
	}
}
