package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goros/defs"
)

func TestPipeRoundtrip(t *testing.T) {
	rf, wf := Openpipe(0)
	n, err := wf.Write(nil, Mkfakebuf([]uint8("HELLO")))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	out := make([]uint8, 5)
	n, err = rf.Read(nil, Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "HELLO", string(out))
	require.Equal(t, defs.Err_t(0), rf.Close())
	require.Equal(t, defs.Err_t(0), wf.Close())
}

func TestPipeEmptyBlocks(t *testing.T) {
	rf, wf := Openpipe(0)
	defer rf.Close()
	defer wf.Close()
	out := make([]uint8, 4)
	_, err := rf.Read(nil, Mkfakebuf(out))
	assert.Equal(t, -defs.EAGAIN, err)
	assert.False(t, rf.Ready(false))
	wf.Write(nil, Mkfakebuf([]uint8("x")))
	assert.True(t, rf.Ready(false))
}

func TestPipeFullBlocks(t *testing.T) {
	rf, wf := Openpipe(0)
	defer rf.Close()
	defer wf.Close()
	big := make([]uint8, PIPE_CAPACITY)
	n, err := wf.Write(nil, Mkfakebuf(big))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, PIPE_CAPACITY, n)
	_, err = wf.Write(nil, Mkfakebuf([]uint8("y")))
	assert.Equal(t, -defs.EAGAIN, err)
	assert.False(t, wf.Ready(true))
	out := make([]uint8, 100)
	rf.Read(nil, Mkfakebuf(out))
	assert.True(t, wf.Ready(true))
}

func TestPipeWraparound(t *testing.T) {
	rf, wf := Openpipe(0)
	defer rf.Close()
	defer wf.Close()
	chunk := make([]uint8, 3000)
	for i := range chunk {
		chunk[i] = uint8(i % 240)
	}
	out := make([]uint8, 3000)
	for round := 0; round < 4; round++ {
		n, err := wf.Write(nil, Mkfakebuf(chunk))
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, len(chunk), n)
		n, err = rf.Read(nil, Mkfakebuf(out))
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, len(chunk), n)
		require.Equal(t, chunk, out, "round %d", round)
	}
}

func TestPipeEofAndEpipe(t *testing.T) {
	rf, wf := Openpipe(0)
	require.Equal(t, defs.Err_t(0), wf.Close())
	out := make([]uint8, 4)
	n, err := rf.Read(nil, Mkfakebuf(out))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)

	rf2, wf2 := Openpipe(0)
	require.Equal(t, defs.Err_t(0), rf2.Close())
	_, err = wf2.Write(nil, Mkfakebuf([]uint8("z")))
	assert.Equal(t, -defs.EPIPE, err)
	rf.Close()
	wf2.Close()
}

func TestPipePartialDrainBeforeEof(t *testing.T) {
	rf, wf := Openpipe(0)
	wf.Write(nil, Mkfakebuf([]uint8("tail")))
	wf.Close()
	out := make([]uint8, 16)
	n, err := rf.Read(nil, Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "tail", string(out[:4]))
	n, err = rf.Read(nil, Mkfakebuf(out))
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)
	rf.Close()
}

func TestFifoSharedByPath(t *testing.T) {
	a := Mkfifonode([]uint8("/tmp/fifo"), nil)
	b := Mkfifonode([]uint8("/tmp/fifo"), nil)
	fa := Mkfile(a, []uint8("/tmp/fifo"), defs.O_WRITE)
	fb := Mkfile(b, []uint8("/tmp/fifo"), defs.O_READ)
	a.Priv.(*pipenode_t).Openend(true)
	b.Priv.(*pipenode_t).Openend(false)
	n, err := fa.Write(nil, Mkfakebuf([]uint8("named")))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	out := make([]uint8, 5)
	n, err = fb.Read(nil, Mkfakebuf(out))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "named", string(out))
	fa.Close()
	fb.Close()
	// the registry entry disappears with the last node
	fifolock.Lock()
	_, still := fifos["/tmp/fifo"]
	fifolock.Unlock()
	assert.False(t, still)
}
