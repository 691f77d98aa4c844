package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Profiler counts executed opcodes and function invocations. It is shared by
// every invocation of a model and safe for concurrent use.
type Profiler struct {
	opcodes   [256]opcodeCounter
	functions sync.Map // *Function -> *atomic.Uint64
	started   time.Time
}

type opcodeCounter struct {
	count atomic.Uint64
	nanos atomic.Int64
}

// OpcodeProfile is the aggregate of one opcode.
type OpcodeProfile struct {
	Opcode Opcode
	Count  uint64
	Total  time.Duration
}

// FunctionProfile is the invocation count of one function.
type FunctionProfile struct {
	Function string // "module.function"
	Count    uint64
}

// ProfilerStats is a point-in-time copy of a Profiler.
type ProfilerStats struct {
	Started      time.Time
	Instructions uint64
	Invocations  uint64
	Opcodes      []OpcodeProfile   // by opcode, executed opcodes only
	Functions    []FunctionProfile // by name
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{started: time.Now()}
}

// RecordOpcode accounts one executed instruction.
func (p *Profiler) RecordOpcode(op Opcode, d time.Duration) {
	c := &p.opcodes[op]
	c.count.Add(1)
	c.nanos.Add(int64(d))
}

// RecordInvocation accounts one call of f.
func (p *Profiler) RecordInvocation(f *Function) {
	if f == nil {
		return
	}
	val, _ := p.functions.LoadOrStore(f, new(atomic.Uint64))
	val.(*atomic.Uint64).Add(1)
}

// OpcodeCount returns how often op was executed.
func (p *Profiler) OpcodeCount(op Opcode) uint64 {
	return p.opcodes[op].count.Load()
}

// InvocationCount returns how often f was invoked.
func (p *Profiler) InvocationCount(f *Function) uint64 {
	if val, ok := p.functions.Load(f); ok {
		return val.(*atomic.Uint64).Load()
	}
	return 0
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	stats := ProfilerStats{Started: p.started}

	for i := range p.opcodes {
		c := &p.opcodes[i]
		n := c.count.Load()
		if n == 0 {
			continue
		}
		stats.Instructions += n
		stats.Opcodes = append(stats.Opcodes, OpcodeProfile{
			Opcode: Opcode(i),
			Count:  n,
			Total:  time.Duration(c.nanos.Load()),
		})
	}

	p.functions.Range(func(key, val any) bool {
		n := val.(*atomic.Uint64).Load()
		stats.Invocations += n
		stats.Functions = append(stats.Functions, FunctionProfile{
			Function: key.(*Function).String(),
			Count:    n,
		})
		return true
	})
	sort.Slice(stats.Functions, func(i, j int) bool {
		return stats.Functions[i].Function < stats.Functions[j].Function
	})
	return stats
}

// Hottest returns up to n opcodes ordered by execution count.
func (s ProfilerStats) Hottest(n int) []OpcodeProfile {
	out := append([]OpcodeProfile(nil), s.Opcodes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
