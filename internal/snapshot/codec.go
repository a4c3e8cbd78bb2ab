package snapshot

import (
	"encoding/binary"
	"fmt"
)

// cursor walks a fixed-size buffer, matching the natural C layout:
// every field is written/read at its exact offset, with the same
// padding the struct-size constants in layout.go already account for.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) put(n int) []byte {
	s := c.buf[c.off : c.off+n]
	c.off += n
	return s
}

func (c *cursor) putUint32(v uint32) { binary.LittleEndian.PutUint32(c.put(4), v) }
func (c *cursor) putInt32(v int32)   { binary.LittleEndian.PutUint32(c.put(4), uint32(v)) }
func (c *cursor) putUint64(v uint64) { binary.LittleEndian.PutUint64(c.put(8), v) }
func (c *cursor) pad(n int)          { c.off += n }

func (c *cursor) getUint32() uint32 { return binary.LittleEndian.Uint32(c.put(4)) }
func (c *cursor) getInt32() int32   { return int32(binary.LittleEndian.Uint32(c.put(4))) }
func (c *cursor) getUint64() uint64 { return binary.LittleEndian.Uint64(c.put(8)) }

func (c *cursor) putShortString(s ShortString) {
	c.putUint64(s.Len)
	copy(c.put(MaxShortString), s.Value[:])
}

func (c *cursor) getShortString() ShortString {
	var s ShortString
	s.Len = c.getUint64()
	copy(s.Value[:], c.put(MaxShortString))
	return s
}

func (c *cursor) putInsnData(d InsnData) {
	c.putUint64(d.Size)
	copy(c.put(MaxInsnDataSize), d.Buffer[:])
}

func (c *cursor) getInsnData() InsnData {
	var d InsnData
	d.Size = c.getUint64()
	copy(d.Buffer[:], c.put(MaxInsnDataSize))
	return d
}

func (c *cursor) putInsnInfo(i InsnInfo) {
	c.putUint64(i.PC)
	c.putUint64(i.Size)
	c.putShortString(i.Symbol)
	c.putShortString(i.HWAddr)
	c.putShortString(i.Disas)
	c.putInsnData(i.Data)
}

func (c *cursor) getInsnInfo() InsnInfo {
	var i InsnInfo
	i.PC = c.getUint64()
	i.Size = c.getUint64()
	i.Symbol = c.getShortString()
	i.HWAddr = c.getShortString()
	i.Disas = c.getShortString()
	i.Data = c.getInsnData()
	return i
}

func (c *cursor) putRegister(r Register) {
	c.putInt32(r.Size)
	copy(c.put(MaxRegisterDataSize), r.Data[:])
	c.pad(4)
	c.putShortString(r.Name)
}

func (c *cursor) getRegister() Register {
	var r Register
	r.Size = c.getInt32()
	copy(r.Data[:], c.put(MaxRegisterDataSize))
	c.pad(4)
	r.Name = c.getShortString()
	return r
}

func (c *cursor) putCPU(cpu CPU) {
	c.putUint32(cpu.Idx)
	c.pad(4)
	c.putUint64(cpu.RegistersSize)
	for i := range cpu.Registers {
		c.putRegister(cpu.Registers[i])
	}
}

func (c *cursor) getCPU() CPU {
	var cpu CPU
	cpu.Idx = c.getUint32()
	c.pad(4)
	cpu.RegistersSize = c.getUint64()
	for i := range cpu.Registers {
		cpu.Registers[i] = c.getRegister()
	}
	return cpu
}

// EncodeInsn writes an InsnSnapshot into buf, which must be at least
// InsnSnapshotSize bytes.
func EncodeInsn(buf []byte, s InsnSnapshot) error {
	if len(buf) < InsnSnapshotSize {
		return fmt.Errorf("snapshot: buffer too small for insn snapshot: %d < %d", len(buf), InsnSnapshotSize)
	}
	c := &cursor{buf: buf}
	c.putUint32(s.InitMask)
	c.pad(4)
	for i := range s.CPUs {
		c.putCPU(s.CPUs[i])
	}
	c.putInsnInfo(s.CurrentInsn)
	return nil
}

// DecodeInsn reads an InsnSnapshot from buf.
func DecodeInsn(buf []byte) (InsnSnapshot, error) {
	var s InsnSnapshot
	if len(buf) < InsnSnapshotSize {
		return s, fmt.Errorf("snapshot: buffer too small for insn snapshot: %d < %d", len(buf), InsnSnapshotSize)
	}
	c := &cursor{buf: buf}
	s.InitMask = c.getUint32()
	c.pad(4)
	for i := range s.CPUs {
		s.CPUs[i] = c.getCPU()
	}
	s.CurrentInsn = c.getInsnInfo()
	return s, nil
}

// EncodeTB writes a TBSnapshot into buf, which must be at least
// TBSnapshotSize bytes.
func EncodeTB(buf []byte, s TBSnapshot) error {
	if len(buf) < TBSnapshotSize {
		return fmt.Errorf("snapshot: buffer too small for tb snapshot: %d < %d", len(buf), TBSnapshotSize)
	}
	c := &cursor{buf: buf}
	c.putUint64(s.PC)
	c.putUint64(s.InsnCount)
	c.putUint32(uint32(s.InsnsInfoSize))
	c.putUint32(s.InitMask)
	for i := range s.InsnsInfo {
		c.putInsnInfo(s.InsnsInfo[i])
	}
	for i := range s.CPUs {
		c.putCPU(s.CPUs[i])
	}
	return nil
}

// DecodeTB reads a TBSnapshot from buf.
func DecodeTB(buf []byte) (TBSnapshot, error) {
	var s TBSnapshot
	if len(buf) < TBSnapshotSize {
		return s, fmt.Errorf("snapshot: buffer too small for tb snapshot: %d < %d", len(buf), TBSnapshotSize)
	}
	c := &cursor{buf: buf}
	s.PC = c.getUint64()
	s.InsnCount = c.getUint64()
	s.InsnsInfoSize = uint64(c.getUint32())
	s.InitMask = c.getUint32()
	for i := range s.InsnsInfo {
		s.InsnsInfo[i] = c.getInsnInfo()
	}
	for i := range s.CPUs {
		s.CPUs[i] = c.getCPU()
	}
	return s, nil
}
