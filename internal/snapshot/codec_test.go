package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInsnRoundTrip(t *testing.T) {
	var s InsnSnapshot
	s.InitMask = 0b1
	s.CPUs[0].Idx = 0
	s.CPUs[0].RegistersSize = 2
	s.CPUs[0].Registers[0] = Register{Size: 4, Name: NewShortString("x1")}
	s.CPUs[0].Registers[0].Data[0] = 0x01
	s.CPUs[0].Registers[1] = Register{Size: 4, Name: NewShortString("x2")}
	s.CPUs[0].Registers[1].Data[0] = 0x02
	s.CurrentInsn.PC = 0x80000000
	s.CurrentInsn.Disas = NewShortString("addi x1, x0, 1")

	buf := make([]byte, InsnSnapshotSize)
	require.NoError(t, EncodeInsn(buf, s))

	decoded, err := DecodeInsn(buf)
	require.NoError(t, err)

	assert.Equal(t, s.InitMask, decoded.InitMask)
	assert.Equal(t, s.CPUs[0].RegistersSize, decoded.CPUs[0].RegistersSize)
	assert.Equal(t, "x1", decoded.CPUs[0].Registers[0].RawName())
	assert.Equal(t, byte(0x01), decoded.CPUs[0].Registers[0].Data[0])
	assert.Equal(t, uint64(0x80000000), decoded.CurrentInsn.PC)
	assert.Equal(t, "addi x1, x0, 1", decoded.CurrentInsn.Disas.String())
}

func TestEncodeDecodeTBRoundTrip(t *testing.T) {
	var s TBSnapshot
	s.PC = 0x80000000
	s.InsnCount = 4
	s.InsnsInfoSize = 2
	s.InitMask = 0b11
	s.InsnsInfo[0].PC = 0x80000000
	s.InsnsInfo[1].PC = 0x80000004
	s.CPUs[1].RegistersSize = 1

	buf := make([]byte, TBSnapshotSize)
	require.NoError(t, EncodeTB(buf, s))

	decoded, err := DecodeTB(buf)
	require.NoError(t, err)

	assert.Equal(t, s.PC, decoded.PC)
	assert.Equal(t, s.InsnCount, decoded.InsnCount)
	assert.Equal(t, s.InsnsInfoSize, decoded.InsnsInfoSize)
	assert.Len(t, decoded.LiveInsns(), 2)
	assert.Equal(t, uint64(0x80000004), decoded.LiveInsns()[1].PC)
	assert.Equal(t, []int{0, 1}, decoded.LiveCPUs())
}

func TestShortStringTruncates(t *testing.T) {
	long := make([]byte, MaxShortString+50)
	for i := range long {
		long[i] = 'a'
	}
	ss := NewShortString(string(long))
	assert.Equal(t, uint64(MaxShortString), ss.Len)
	assert.Len(t, ss.String(), MaxShortString)
}

func TestRegisterHexDataReversesBytes(t *testing.T) {
	r := Register{Size: 4}
	r.Data[0] = 0x01
	r.Data[1] = 0x00
	r.Data[2] = 0x00
	r.Data[3] = 0x00
	assert.Equal(t, "00 00 00 01", r.HexData())
}

func TestSHMRegionSizeCoversBothVariants(t *testing.T) {
	size := SHMRegionSize()
	assert.GreaterOrEqual(t, size, uint32(InsnSnapshotSize))
	assert.GreaterOrEqual(t, size, uint32(TBSnapshotSize))
}

func TestLiveCPUsRespectsInitMask(t *testing.T) {
	s := InsnSnapshot{InitMask: 0b101}
	assert.Equal(t, []int{0, 2}, s.LiveCPUs())
}
