// Package stat implements the Stat_t wire format materialised by fstat,
// stat, and lstat, adapted from teacher_src/stat/stat.go.
package stat

import "encoding/binary"

// Size is the marshalled length of a Stat_t in bytes, matching the field
// layout below (8 uint64 fields).
const Size = 8 * 8

// Stat_t mirrors a file's stat information (§4.10).
type Stat_t struct {
	dev    uint64
	ino    uint64
	mode   uint64
	size   uint64
	rdev   uint64
	uid    uint64
	blocks uint64
	mtime  uint64 // nanoseconds since epoch
}

func (st *Stat_t) SetDev(v uint64)    { st.dev = v }
func (st *Stat_t) SetIno(v uint64)    { st.ino = v }
func (st *Stat_t) SetMode(v uint64)   { st.mode = v }
func (st *Stat_t) SetSize(v uint64)   { st.size = v }
func (st *Stat_t) SetRdev(v uint64)   { st.rdev = v }
func (st *Stat_t) SetUid(v uint64)    { st.uid = v }
func (st *Stat_t) SetBlocks(v uint64) { st.blocks = v }
func (st *Stat_t) SetMtime(v uint64)  { st.mtime = v }

func (st *Stat_t) Dev() uint64    { return st.dev }
func (st *Stat_t) Ino() uint64    { return st.ino }
func (st *Stat_t) Mode() uint64   { return st.mode }
func (st *Stat_t) Size() uint64   { return st.size }
func (st *Stat_t) Rdev() uint64   { return st.rdev }
func (st *Stat_t) Uid() uint64    { return st.uid }
func (st *Stat_t) Blocks() uint64 { return st.blocks }
func (st *Stat_t) Mtime() uint64  { return st.mtime }

// File type bits stored in Mode, POSIX-compatible layout (high bits).
const (
	IFREG  = 0o100000
	IFDIR  = 0o040000
	IFLNK  = 0o120000
	IFSOCK = 0o140000
	IFCHR  = 0o020000
	IFIFO  = 0o010000
)

// Bytes marshals the structure into a little-endian byte slice of length
// Size, suitable for a K2user copy into the caller's struct stat buffer.
func (st *Stat_t) Bytes() []byte {
	buf := make([]byte, Size)
	fields := []uint64{st.dev, st.ino, st.mode, st.size, st.rdev, st.uid, st.blocks, st.mtime}
	for i, f := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], f)
	}
	return buf
}
