// Command trilox runs a trilox script file, or starts an interactive REPL
// when invoked with no file argument. Grounded on the teacher's
// cmd/noxy/main.go: same flag set, same REPL buffering strategy, same
// panic-recovery wrapper around main.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mattn/go-isatty"

	"trilox/internal/chunk"
	"trilox/internal/compiler"
	"trilox/internal/natives"
	"trilox/internal/vm"
)

const Version = "v1.0.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("Recovered from panic:", r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	stressGC := flag.Bool("stress-gc", false, "Collect before every instruction")
	logGC := flag.Bool("log-gc", false, "Log each GC cycle")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: trilox [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("trilox %s\n", Version)
		return
	}

	cfg := vm.Config{RootPath: ".", StressGC: *stressGC, LogGC: *logGC}

	args := flag.Args()
	if len(args) < 1 {
		startREPL(cfg, *showDisassembly)
		return
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Printf("Error reading file: %s\n", err)
		os.Exit(1)
	}
	runSource(args[0], string(content), cfg, *showDisassembly)
}

// prompt returns s, colored when stdout is a real terminal per go-isatty,
// matching the teacher's instinct to reserve ANSI codes for interactive
// use so piped/redirected output stays plain.
func prompt(s string) string {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "\033[36m" + s + "\033[0m"
	}
	return s
}

func startREPL(cfg vm.Config, showDisasm bool) {
	fmt.Printf("trilox REPL %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	machine := vm.NewWithConfig(cfg)
	natives.Core(os.Stdout, os.Stdin).Install(machine)

	scanner := bufio.NewScanner(os.Stdin)
	var inputBuffer string
	line := 0

	for {
		if inputBuffer == "" {
			fmt.Print(prompt(">>> "))
		} else {
			fmt.Print(prompt("... "))
		}

		if !scanner.Scan() {
			break
		}
		text := scanner.Text()
		line++

		if inputBuffer == "" && strings.TrimSpace(text) == "exit" {
			break
		}
		if inputBuffer == "" && strings.TrimSpace(text) == "" {
			continue
		}

		if inputBuffer == "" {
			inputBuffer = text
		} else {
			inputBuffer += "\n" + text
		}

		fn, err := compiler.Compile(inputBuffer, "REPL")
		if err != nil {
			if unclosedBlock(inputBuffer) {
				continue
			}
			fmt.Println(err)
			inputBuffer = ""
			continue
		}

		if showDisasm {
			fn.Chunk.(*chunk.Chunk).DisassembleAll("REPL")
		}

		if err := machine.Interpret(fn); err != nil {
			fmt.Printf("Runtime error: %s\n", err)
		}
		inputBuffer = ""
	}
}

// unclosedBlock is a coarse heuristic for "the user's statement isn't
// finished yet, keep reading more lines": it counts " do" and "{" as
// openers and " end" and "}" as closers, and reports an excess of openers.
// A `function` header is not counted as an opener, and an `end` at the
// start of a line is not counted as a closer.
func unclosedBlock(src string) bool {
	opens := strings.Count(src, " do") + strings.Count(src, "{")
	closes := strings.Count(src, " end") + strings.Count(src, "}")
	return opens > closes
}

func runSource(filename, src string, cfg vm.Config, showDisasm bool) {
	fn, err := compiler.Compile(src, filename)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if showDisasm {
		fmt.Println("Disassembly:")
		fn.Chunk.(*chunk.Chunk).DisassembleAll(filename)
		fmt.Println("\nExecution:")
	}

	machine := vm.NewWithConfig(cfg)
	natives.Core(os.Stdout, os.Stdin).Install(machine)

	if err := machine.Interpret(fn); err != nil {
		fmt.Printf("Runtime error: %s\n", err)
		os.Exit(1)
	}
}
