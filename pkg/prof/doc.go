// Package prof captures pprof profiles around a run of the engine.
//
// It is compiled in only with the "profile" build tag:
//
//	go run -tags profile ./examples/xhci-sim -cpuprofile cpu.prof -mutexprofile mutex.prof
//
// Without the tag [Start] returns a session that records nothing, so callers
// can keep their profiling flags unconditionally.
//
// The mutex and block profiles are the useful ones for the ring engine: every
// submit and every drain pass takes the ring and registry locks, and
// contention there shows up as lock wait rather than CPU.
package prof
