package report

import (
	"encoding/json"

	"github.com/vadl-tools/cosim-broker/internal/snapshot"
)

// TraceEntry is one lockstep round's per-client snapshot view: exactly
// one of Insn or TB is populated, depending on the run's layer. It
// marshals as a bare JSON array of per-client objects, matching the
// original broker's `list[dict]` trace entry shape — no wrapper tag;
// the written document does not record which layer produced it.
type TraceEntry struct {
	Insn []snapshot.InsnSnapshot
	TB   []snapshot.TBSnapshot
}

func (e TraceEntry) MarshalJSON() ([]byte, error) {
	if e.TB != nil {
		views := make([]tbSnapshotView, len(e.TB))
		for i, s := range e.TB {
			views[i] = newTBSnapshotView(s)
		}
		return json.Marshal(views)
	}
	views := make([]insnSnapshotView, len(e.Insn))
	for i, s := range e.Insn {
		views[i] = newInsnSnapshotView(s)
	}
	return json.Marshal(views)
}

type registerView struct {
	Size int32  `json:"size"`
	Data string `json:"data"`
	Name string `json:"name"`
}

func newRegisterView(r snapshot.Register) registerView {
	return registerView{Size: r.Size, Data: r.HexData(), Name: r.RawName()}
}

type cpuView struct {
	Idx       uint32         `json:"idx"`
	Registers []registerView `json:"registers"`
}

func newCPUView(c snapshot.CPU) cpuView {
	live := c.Live()
	regs := make([]registerView, len(live))
	for i, r := range live {
		regs[i] = newRegisterView(r)
	}
	return cpuView{Idx: c.Idx, Registers: regs}
}

func cpuViews(cpus [snapshot.MaxCPUCount]snapshot.CPU, liveIdxs []int) []cpuView {
	out := make([]cpuView, len(liveIdxs))
	for i, idx := range liveIdxs {
		out[i] = newCPUView(cpus[idx])
	}
	return out
}

type insnInfoView struct {
	PC     uint64 `json:"pc"`
	Size   uint64 `json:"size"`
	Symbol string `json:"symbol,omitempty"`
	HWAddr string `json:"hwaddr,omitempty"`
	Disas  string `json:"disas,omitempty"`
}

func newInsnInfoView(i snapshot.InsnInfo) insnInfoView {
	return insnInfoView{
		PC:     i.PC,
		Size:   i.Size,
		Symbol: i.Symbol.String(),
		HWAddr: i.HWAddr.String(),
		Disas:  i.Disas.String(),
	}
}

type insnSnapshotView struct {
	InitMask    uint32       `json:"init_mask"`
	CPUs        []cpuView    `json:"cpus"`
	CurrentInsn insnInfoView `json:"current_insn"`
}

func newInsnSnapshotView(s snapshot.InsnSnapshot) insnSnapshotView {
	return insnSnapshotView{
		InitMask:    s.InitMask,
		CPUs:        cpuViews(s.CPUs, s.LiveCPUs()),
		CurrentInsn: newInsnInfoView(s.CurrentInsn),
	}
}

type tbSnapshotView struct {
	PC        uint64         `json:"pc"`
	InsnCount uint64         `json:"insn_count"`
	InsnsInfo []insnInfoView `json:"insns_info"`
	InitMask  uint32         `json:"init_mask"`
	CPUs      []cpuView      `json:"cpus"`
}

func newTBSnapshotView(s snapshot.TBSnapshot) tbSnapshotView {
	live := s.LiveInsns()
	infos := make([]insnInfoView, len(live))
	for i, info := range live {
		infos[i] = newInsnInfoView(info)
	}
	return tbSnapshotView{
		PC:        s.PC,
		InsnCount: s.InsnCount,
		InsnsInfo: infos,
		InitMask:  s.InitMask,
		CPUs:      cpuViews(s.CPUs, s.LiveCPUs()),
	}
}

// Trace is a bounded ring buffer of TraceEntry, one per lockstep
// round. MaxLen < 0 means unbounded; MaxLen == 0 records nothing.
type Trace struct {
	maxLen  int
	entries []TraceEntry
}

// NewTrace creates an empty Trace with the given bound.
func NewTrace(maxLen int) *Trace {
	return &Trace{maxLen: maxLen, entries: []TraceEntry{}}
}

// Append records one round's entry, evicting the oldest entry first
// if the ring is at capacity.
func (t *Trace) Append(entry TraceEntry) {
	if t.maxLen == 0 {
		return
	}
	t.entries = append(t.entries, entry)
	if t.maxLen > 0 && len(t.entries) > t.maxLen {
		t.entries = t.entries[len(t.entries)-t.maxLen:]
	}
}

// Entries returns the recorded entries in round order.
func (t *Trace) Entries() []TraceEntry {
	return t.entries
}

// Len reports how many entries are currently recorded.
func (t *Trace) Len() int {
	return len(t.entries)
}
