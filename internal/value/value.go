// Package value defines the tagged-union Value type and the heap Object
// kinds (String, Function, Closure, Upvalue, Array, Table, Native) that back
// every trilox runtime value.
package value

import (
	"fmt"
	"strings"
)

type Type int

const (
	NilType Type = iota
	LogicType
	NumberType
	ObjType
)

// Logic is the three-valued (Kleene/Priest) logic domain.
type Logic int

const (
	False Logic = iota
	Unknown
	True
)

func (l Logic) String() string {
	switch l {
	case False:
		return "false"
	case Unknown:
		return "unknown"
	case True:
		return "true"
	default:
		return "unknown"
	}
}

// Not implements ternary negation: Not(x) = 2 - x.
func Not(l Logic) Logic { return True - l }

// And implements Kleene conjunction: min(a, b).
func And(a, b Logic) Logic {
	if a < b {
		return a
	}
	return b
}

// Or implements Kleene disjunction: max(a, b).
func Or(a, b Logic) Logic {
	if a > b {
		return a
	}
	return b
}

// Xor is unknown whenever either operand is unknown, else boolean xor.
func Xor(a, b Logic) Logic {
	if a == Unknown || b == Unknown {
		return Unknown
	}
	if a != b {
		return True
	}
	return False
}

// Value is a tagged union: exactly one of the Num/Logic/Object payload
// fields is meaningful, selected by Type.
type Value struct {
	Type   Type
	Logic  Logic
	Num    float64
	Object Obj
}

func Nil() Value                { return Value{Type: NilType} }
func NewLogic(l Logic) Value    { return Value{Type: LogicType, Logic: l} }
func NewNumber(n float64) Value { return Value{Type: NumberType, Num: n} }
func NewObject(o Obj) Value     { return Value{Type: ObjType, Object: o} }

func NewBool(b bool) Value {
	if b {
		return NewLogic(True)
	}
	return NewLogic(False)
}

func (v Value) IsNil() bool    { return v.Type == NilType }
func (v Value) IsLogic() bool  { return v.Type == LogicType }
func (v Value) IsNumber() bool { return v.Type == NumberType }
func (v Value) IsObject() bool { return v.Type == ObjType }

func (v Value) IsObjKind(k ObjKind) bool {
	return v.Type == ObjType && v.Object != nil && v.Object.ObjKind() == k
}

func (v Value) IsString() bool   { return v.IsObjKind(KindString) }
func (v Value) IsFunction() bool { return v.IsObjKind(KindFunction) }
func (v Value) IsClosure() bool  { return v.IsObjKind(KindClosure) }
func (v Value) IsArray() bool    { return v.IsObjKind(KindArray) }
func (v Value) IsTable() bool    { return v.IsObjKind(KindTable) }
func (v Value) IsNative() bool   { return v.IsObjKind(KindNative) }

func (v Value) AsString() *ObjString     { return v.Object.(*ObjString) }
func (v Value) AsFunction() *ObjFunction { return v.Object.(*ObjFunction) }
func (v Value) AsClosure() *ObjClosure   { return v.Object.(*ObjClosure) }
func (v Value) AsArray() *ObjArray       { return v.Object.(*ObjArray) }
func (v Value) AsTable() *ObjTable       { return v.Object.(*ObjTable) }
func (v Value) AsNative() *ObjNative     { return v.Object.(*ObjNative) }
func (v Value) AsUpvalue() *ObjUpvalue   { return v.Object.(*ObjUpvalue) }

func (v Value) StringValue() string { return v.AsString().Chars }

func (v Value) String() string {
	switch v.Type {
	case NilType:
		return "nil"
	case LogicType:
		return v.Logic.String()
	case NumberType:
		return formatNumber(v.Num)
	case ObjType:
		return objectString(v.Object)
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func objectString(o Obj) string {
	switch obj := o.(type) {
	case *ObjString:
		return obj.Chars
	case *ObjFunction:
		if obj.Name == "" {
			return "<script>"
		}
		return fmt.Sprintf("<function %s>", obj.Name)
	case *ObjClosure:
		return objectString(obj.Function)
	case *ObjNative:
		return fmt.Sprintf("<native %s>", obj.Name)
	case *ObjArray:
		parts := make([]string, len(obj.Values))
		for i, e := range obj.Values {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *ObjTable:
		return "table"
	case *ObjUpvalue:
		return "upvalue"
	default:
		return "object"
	}
}
