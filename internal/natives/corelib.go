package natives

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"trilox/internal/value"
)

// Core returns the four natives every original_source/source/corelib.c
// build exposes: disp, pi, input, clock. out/in let a host (the REPL, a
// test) redirect the I/O the original always pointed at stdio.
func Core(out io.Writer, in io.Reader) *Registry {
	r := NewRegistry()
	start := time.Now()
	reader := bufio.NewReader(in)

	r.Define("disp", ReturnsNil, func(args []value.Value) (value.Value, error) {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(out, ", ")
			}
			fmt.Fprint(out, a.String())
		}
		fmt.Fprintln(out)
		return value.Nil(), nil
	})

	r.Define("pi", ReturnsNumber, func(args []value.Value) (value.Value, error) {
		return value.NewNumber(3.14159265358979323846), nil
	})

	r.Define("clock", ReturnsNumber, func(args []value.Value) (value.Value, error) {
		return value.NewNumber(time.Since(start).Seconds()), nil
	})

	r.Define("input", ReturnsString, func(args []value.Value) (value.Value, error) {
		if len(args) > 0 {
			for i, a := range args {
				if i > 0 {
					fmt.Fprint(out, ", ")
				}
				fmt.Fprint(out, a.String())
			}
			fmt.Fprintln(out)
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return value.Nil(), nil
		}
		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		return r.intern(line), nil
	})

	return r
}

// intern builds a string Value outside the VM's collector: natives have no
// heap/GC access of their own (the VM owns allocation), so this object is
// untracked by any mark-sweep cycle and lives only as long as ordinary Go
// references to it do. The VM re-canonicalizes any string Value it
// receives back from a native through its own interning table (see
// vm.canonicalizeConstant) before the value is stored anywhere durable.
func (r *Registry) intern(s string) value.Value {
	return value.NewObject(&value.ObjString{Chars: s, Hash: value.HashString(s)})
}
