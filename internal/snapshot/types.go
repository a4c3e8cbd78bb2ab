package snapshot

import "fmt"

// ShortString is a fixed-capacity string: the trailing bytes beyond Len
// are never meaningful and must not be read.
type ShortString struct {
	Len   uint64
	Value [MaxShortString]byte
}

// NewShortString truncates s to MaxShortString bytes if necessary.
func NewShortString(s string) ShortString {
	var ss ShortString
	n := copy(ss.Value[:], s)
	ss.Len = uint64(n)
	return ss
}

// String returns the meaningful prefix of the buffer.
func (s ShortString) String() string {
	n := s.Len
	if n > MaxShortString {
		n = MaxShortString
	}
	return string(s.Value[:n])
}

// InsnData is a fixed-capacity byte buffer holding the raw encoded
// instruction bytes, with an explicit Size so trailing bytes are never
// read.
type InsnData struct {
	Size   uint64
	Buffer [MaxInsnDataSize]byte
}

// Bytes returns the meaningful prefix of the buffer.
func (d InsnData) Bytes() []byte {
	n := d.Size
	if n > MaxInsnDataSize {
		n = MaxInsnDataSize
	}
	return d.Buffer[:n]
}

// InsnInfo describes one executed instruction. Symbol, HWAddr, and Disas
// are optional presentation metadata (resolved symbol name, host
// address, disassembly text) carried for richer diff/report output;
// only Data is required to be meaningful.
type InsnInfo struct {
	PC     uint64
	Size   uint64
	Symbol ShortString
	HWAddr ShortString
	Disas  ShortString
	Data   InsnData
}

// Register is one CPU register as written by the client.
type Register struct {
	Size int32
	Data [MaxRegisterDataSize]byte
	Name ShortString
}

// RawName returns the register name exactly as the client wrote it,
// before any gdb_reg_map canonicalization.
func (r Register) RawName() string { return r.Name.String() }

// HexData formats the meaningful prefix of Data reversed (little-endian
// as written -> big-endian display) as space-separated hex bytes. This
// is purely a display convention; equality is always byte-equality of
// the raw buffer.
func (r Register) HexData() string {
	n := r.Size
	if n < 0 {
		n = 0
	}
	if int(n) > MaxRegisterDataSize {
		n = MaxRegisterDataSize
	}
	buf := make([]byte, 0, n*3)
	for i := int(n) - 1; i >= 0; i-- {
		if len(buf) > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, fmt.Sprintf("%02x", r.Data[i])...)
	}
	return string(buf)
}

// CPU is the architectural state of one guest CPU.
type CPU struct {
	Idx            uint32
	RegistersSize  uint64
	Registers      [MaxCPURegisters]Register
}

// Live returns the meaningful prefix of Registers.
func (c CPU) Live() []Register {
	n := c.RegistersSize
	if n > MaxCPURegisters {
		n = MaxCPURegisters
	}
	return c.Registers[:n]
}

// InsnSnapshot is the per-step state captured for the "insn" layer:
// one instruction's worth of architectural state across all CPUs.
type InsnSnapshot struct {
	InitMask    uint32
	CPUs        [MaxCPUCount]CPU
	CurrentInsn InsnInfo
}

// LiveCPUs returns the indices for which InitMask's bit is set.
func (s InsnSnapshot) LiveCPUs() []int {
	var idxs []int
	for i := 0; i < MaxCPUCount; i++ {
		if s.InitMask&(1<<uint(i)) != 0 {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// TBSnapshot is the per-step state captured for the "tb"/"tb-strict"
// layers: the most recently executed translation block plus, per the
// same resync contract, the CPU array and its init mask.
type TBSnapshot struct {
	PC            uint64
	InsnCount     uint64
	InsnsInfoSize uint64
	InitMask      uint32
	InsnsInfo     [MaxTBInsns]InsnInfo
	CPUs          [MaxCPUCount]CPU
}

// LiveCPUs returns the indices for which InitMask's bit is set.
func (s TBSnapshot) LiveCPUs() []int {
	var idxs []int
	for i := 0; i < MaxCPUCount; i++ {
		if s.InitMask&(1<<uint(i)) != 0 {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// LiveInsns returns the meaningful prefix of InsnsInfo.
func (s TBSnapshot) LiveInsns() []InsnInfo {
	n := s.InsnsInfoSize
	if n > MaxTBInsns {
		n = MaxTBInsns
	}
	return s.InsnsInfo[:n]
}

// Kind tags which variant a Snapshot carries.
type Kind int

const (
	KindInsn Kind = iota
	KindTB
)

func (k Kind) String() string {
	if k == KindTB {
		return "tb"
	}
	return "insn"
}

// Snapshot is the tagged-union view a client hands back after a step,
// exactly one of Insn or TB is meaningful depending on Kind.
type Snapshot struct {
	Kind Kind
	Insn InsnSnapshot
	TB   TBSnapshot
}
