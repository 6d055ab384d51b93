// Package eventlog implements the Sync record format and the
// append-only per-thread trunk files backing it.
//
// Every record is a fixed 32-byte cell: instruction id, sync opcode,
// before/after marker, timed-out bit, turn number, and up to two inline
// argument words. The wire format is fixed little-endian regardless of
// host architecture, so captured logs are portable across machines.
package eventlog

import "encoding/binary"

// RecordSize is the fixed size, in bytes, of every Sync record.
const RecordSize = 32

// MaxInlineArgs is the number of uint64 argument words a record carries.
const MaxInlineArgs = 2

// InvalidInsID marks a record with no associated instruction id.
const InvalidInsID uint32 = 0x1FFFFFFF // 29 bits, all ones

// Op identifies which synchronization call produced a record.
type Op uint16

const (
	OpThreadBegin Op = iota
	OpThreadEnd
	OpPthreadCreate
	OpPthreadJoin
	OpMutexInit
	OpMutexLock
	OpMutexTryLock
	OpMutexTimedLock
	OpMutexUnlock
	OpMutexDestroy
	OpRWLockInit
	OpRWLockRdLock
	OpRWLockWrLock
	OpRWLockTryRdLock
	OpRWLockTryWrLock
	OpRWLockUnlock
	OpRWLockDestroy
	OpBarrierInit
	OpBarrierWait
	OpBarrierDestroy
	OpCondWait
	OpCondTimedWait
	OpCondSignal
	OpCondBroadcast
	OpSemInit
	OpSemWait
	OpSemTryWait
	OpSemTimedWait
	OpSemPost
	OpSemDestroy
	OpLineupInit
	OpLineupStart
	OpLineupEnd
	OpLineupDestroy
	OpNonDetStart
	OpNonDetEnd
	OpNonDetBarrierEnd
	OpIdle
	OpSymbolic
	OpBlockIO
)

// Record is one Sync event: the turn at which it occurred plus enough
// context to reconstruct what happened and to whom.
type Record struct {
	InsID    uint32
	Op       Op
	After    bool
	TimedOut bool
	Turn     uint32
	Args     [MaxInlineArgs]uint64
}

// Marshal encodes r into the fixed RecordSize-byte wire format.
func (r Record) Marshal() [RecordSize]byte {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.InsID)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(r.Op))
	if r.After {
		buf[6] = 1
	}
	if r.TimedOut {
		buf[7] = 1
	}
	binary.LittleEndian.PutUint32(buf[8:12], r.Turn)
	binary.LittleEndian.PutUint64(buf[12:20], r.Args[0])
	binary.LittleEndian.PutUint64(buf[20:28], r.Args[1])
	// buf[28:32] reserved, zero.
	return buf
}

// Unmarshal decodes a RecordSize-byte wire record.
func Unmarshal(buf [RecordSize]byte) Record {
	return Record{
		InsID:    binary.LittleEndian.Uint32(buf[0:4]),
		Op:       Op(binary.LittleEndian.Uint16(buf[4:6])),
		After:    buf[6] != 0,
		TimedOut: buf[7] != 0,
		Turn:     binary.LittleEndian.Uint32(buf[8:12]),
		Args: [MaxInlineArgs]uint64{
			binary.LittleEndian.Uint64(buf[12:20]),
			binary.LittleEndian.Uint64(buf[20:28]),
		},
	}
}
