//go:build windows

// Command wdbg is a command-line x86-64 debugger: it launches a target
// executable, waits for debug events, and drives a REPL over stdin/stdout
// (spec §1, §4.7).
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shimmerdbg/wdbg/debugevent"
	"github.com/shimmerdbg/wdbg/debugloop"
	"github.com/shimmerdbg/wdbg/internal/wdbglog"
	"github.com/shimmerdbg/wdbg/memoryio"
	"github.com/shimmerdbg/wdbg/pe"
)

var (
	srcPath  string
	logLevel string
)

// stdinCommands adapts a bufio.Scanner into debugloop.CommandSource.
type stdinCommands struct {
	scanner *bufio.Scanner
}

func (s *stdinCommands) Next() (string, bool) {
	fmt.Print("wdbg> ")
	if !s.scanner.Scan() {
		return "", false
	}
	return s.scanner.Text(), true
}

// preflight memory-maps the target with mmap-go and rejects anything that
// isn't an x86-64 image before CreateProcess, so a bad launch fails with a
// clear message instead of a confusing first debug event.
func preflight(path string) error {
	img, err := pe.Open(path)
	if err != nil {
		return fmt.Errorf("wdbg: could not open %s: %w", path, err)
	}
	defer img.Close()

	if err := img.ParseDOSHeader(); err != nil {
		return fmt.Errorf("wdbg: %s is not a PE image: %w", path, err)
	}
	if err := img.ParseNTHeader(); err != nil {
		return fmt.Errorf("wdbg: %s: %w", path, err)
	}
	if img.NtHeader.FileHeader.Machine != pe.ImageFileMachineAMD64 {
		return fmt.Errorf("wdbg: %s is not an x86-64 image (machine %#x)", path, img.NtHeader.FileHeader.Machine)
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	target := args[0]
	targetArgs := args[1:]

	if err := preflight(target); err != nil {
		return err
	}

	logger := wdbglog.New(wdbglog.ParseLevel(logLevel))

	session, err := debugevent.NewWinSession(target, targetArgs)
	if err != nil {
		return fmt.Errorf("wdbg: launch failed: %w", err)
	}

	mem := memoryio.LiveReader{Process: session.ProcessHandle()}

	loop := debugloop.New(session, mem, &stdinCommands{scanner: bufio.NewScanner(os.Stdin)}, os.Stdout, logger)
	loop.Sources.SetSrcPath(srcPath)

	return loop.Run()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "wdbg <executable> [args...]",
		Short: "An x86-64 command-line debugger",
		Long:  "wdbg launches a Windows x86-64 executable under the debug API and drives a breakpoint/disassembly/stack-walk REPL over it.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&srcPath, "srcpath", "", "semicolon-separated list of source root directories for the lsa command")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
