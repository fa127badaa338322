//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// ErrActive is returned by [Start] while another session is running.
var ErrActive = errors.New("profiling session already active")

var (
	activeMu sync.Mutex
	active   bool
)

// Session is a running profiling session.
type Session struct {
	opts Options
	cpu  *os.File
	once sync.Once
	err  error
}

// Start begins the profiles named in opts. Only one session may run at a
// time because the CPU profiler and the sampling rates are process-wide.
func Start(opts Options) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active {
		return nil, ErrActive
	}

	s := &Session{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		s.cpu = f
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(rate(opts.MutexFraction))
	}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(rate(opts.BlockRate))
	}
	active = true
	return s, nil
}

func rate(r int) int {
	if r <= 0 {
		return 1
	}
	return r
}

// Stop ends the session and writes every requested profile. Later calls
// return the first result.
func (s *Session) Stop() error {
	s.once.Do(func() {
		var errs []error
		if s.cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, s.cpu.Close())
		}
		if s.opts.Mutex != "" {
			errs = append(errs, write("mutex", s.opts.Mutex))
			runtime.SetMutexProfileFraction(0)
		}
		if s.opts.Block != "" {
			errs = append(errs, write("block", s.opts.Block))
			runtime.SetBlockProfileRate(0)
		}
		if s.opts.Heap != "" {
			runtime.GC()
			errs = append(errs, write("heap", s.opts.Heap))
		}
		s.err = errors.Join(errs...)

		activeMu.Lock()
		active = false
		activeMu.Unlock()
	})
	return s.err
}

func write(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", name, err)
	}
	err = pprof.Lookup(name).WriteTo(f, 0)
	return errors.Join(err, f.Close())
}
