// Package fault installs the process-wide handler for unexpected runtime
// faults. A recovered panic is reported with the goroutine, the panic message
// and the source location that panicked, followed by the stack; the process
// then exits with ExitPanic so supervisors can tell it apart from ordinary
// fatal errors.
//
// Go has no global panic hook, so every goroutine the program starts must
// begin with
//
//	defer fault.Recover()
package fault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitFatal = 1
	ExitPanic = 3
)

var (
	once   sync.Once
	mu     sync.Mutex
	logger = zap.NewNop()

	// test hooks
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Install sets the logger used for fault reports. Only the first call has an
// effect.
func Install(log *zap.Logger) {
	once.Do(func() {
		if log != nil {
			mu.Lock()
			logger = log
			mu.Unlock()
		}
	})
}

// Report describes one recovered panic.
type Report struct {
	Goroutine string
	Message   string
	Location  string
	Stack     []byte
}

// Recover must be deferred directly. It does nothing when the goroutine is
// not panicking.
func Recover() {
	r := recover()
	if r == nil {
		return
	}
	rep := Report{
		Goroutine: goroutineName(debug.Stack()),
		Message:   message(r),
		Location:  panicLocation(),
		Stack:     debug.Stack(),
	}
	report(rep)
	exit(ExitPanic)
}

func report(rep Report) {
	mu.Lock()
	log := logger
	mu.Unlock()

	log.Error("unexpected fault",
		zap.String("goroutine", rep.Goroutine),
		zap.String("message", rep.Message),
		zap.String("location", rep.Location),
		zap.ByteString("stack", rep.Stack),
	)
	_ = log.Sync()

	if rep.Location != "" {
		fmt.Fprintf(stderr, "%s panicked at '%s': %s\n%s", rep.Goroutine, rep.Message, rep.Location, rep.Stack)
	} else {
		fmt.Fprintf(stderr, "%s panicked at '%s'\n%s", rep.Goroutine, rep.Message, rep.Stack)
	}
}

func message(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// goroutineName extracts "goroutine N" from the first line of a stack dump.
func goroutineName(stack []byte) string {
	line, _, _ := bytes.Cut(stack, []byte("\n"))
	if name, _, ok := bytes.Cut(line, []byte(" [")); ok && bytes.HasPrefix(name, []byte("goroutine ")) {
		return string(name)
	}
	return "unnamed"
}

// panicLocation walks up from the deferred call to the first frame outside
// the runtime after runtime.gopanic; that frame raised the panic.
func panicLocation() string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	seenPanic := false
	for {
		f, more := frames.Next()
		if f.Function == "runtime.gopanic" {
			seenPanic = true
		} else if seenPanic && !isRuntime(f.Function) {
			return fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		if !more {
			return ""
		}
	}
}

func isRuntime(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "internal/runtime/")
}
