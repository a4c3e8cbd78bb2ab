// Package snapshot defines the fixed binary layout shared between the
// broker and each client's native plugin over shared memory: a tagged
// union of an instruction-level snapshot and a translation-block-level
// snapshot, built entirely from fixed-capacity arrays with explicit
// size fields so the wire contract never renegotiates.
//
// Mirrors the offset/size constant style of a native C shared-memory
// layout: every size is a named constant, and encode/decode walk the
// buffer at fixed offsets rather than relying on Go's struct layout.
package snapshot

const (
	// MaxCPUCount bounds the number of CPUs tracked per snapshot.
	MaxCPUCount = 8
	// MaxCPURegisters bounds the number of registers tracked per CPU.
	MaxCPURegisters = 256
	// MaxRegisterDataSize bounds the raw byte width of one register.
	MaxRegisterDataSize = 64
	// MaxTBInsns bounds the number of per-instruction info entries
	// carried in a single translation-block snapshot.
	MaxTBInsns = 32
	// MaxInsnDataSize bounds the raw encoded-instruction byte buffer.
	MaxInsnDataSize = 256
	// MaxShortString bounds any fixed-capacity string field.
	MaxShortString = 256
)

const (
	shortStringSize = 8 + MaxShortString // len (uint64) + bytes
	insnDataSize    = 8 + MaxInsnDataSize
	registerSize    = 4 + MaxRegisterDataSize + 4 + shortStringSize // size(i32)+data+pad4+name
	cpuSize         = 4 + 4 + 8 + MaxCPURegisters*registerSize  // idx+pad+registers_size+registers
	insnInfoSize    = 8 + 8 + 3*shortStringSize + insnDataSize  // pc+size+symbol+hwaddr+disas+data

	// InsnSnapshotSize is the byte size of the Insn-variant snapshot.
	InsnSnapshotSize = 4 + 4 + MaxCPUCount*cpuSize + insnInfoSize // init_mask+pad+cpus+current_insn

	// TBSnapshotSize is the byte size of the TB-variant snapshot.
	TBSnapshotSize = 8 + 8 + 4 + 4 + MaxTBInsns*insnInfoSize + MaxCPUCount*cpuSize
	// pc+insn_count+insns_info_size+init_mask+insns_info+cpus
)

// SHMRegionSize is the fixed size of the shared-memory region backing
// one client: the union of both snapshot variants, i.e. the larger of
// the two, since the two variants are never live at the same time for
// a given client.
func SHMRegionSize() uint32 {
	if InsnSnapshotSize > TBSnapshotSize {
		return uint32(InsnSnapshotSize)
	}
	return uint32(TBSnapshotSize)
}
