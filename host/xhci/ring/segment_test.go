package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/trb"
)

func TestBuild(t *testing.T) {
	mem := dma.NewRegion(0x2000, make([]uint32, 8), nil)
	addrs := []dma.Addr{0x1_0000_0040, 0x8000}

	table, err := Build(mem, addrs, 4)
	require.NoError(t, err)

	assert.Equal(t, dma.Addr(0x2000), table.Address())
	assert.Equal(t, 2, table.EntryCount())
	assert.Equal(t, Segment{Base: 0x1_0000_0040, Blocks: 4}, table.Entry(0))
	assert.Equal(t, Segment{Base: 0x8000, Blocks: 4}, table.Entry(1))
	assert.Equal(t, 64, table.Entry(1).Bytes())

	// Base low, base high, size, reserved.
	assert.Equal(t, uint32(0x40), mem.Load32(0))
	assert.Equal(t, uint32(1), mem.Load32(4))
	assert.Equal(t, uint32(4), mem.Load32(8))
	assert.Zero(t, mem.Load32(12))
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mem    *dma.Region
		addrs  []dma.Addr
		length int
		want   error
	}{
		{"no segments", dma.NewRegion(0x2000, make([]uint32, 8), nil), nil, 4, ErrSegmentSize},
		{"table too small", dma.NewRegion(0x2000, make([]uint32, 4), nil), []dma.Addr{0x40, 0x80}, 4, ErrSegmentSize},
		{"table misaligned", dma.NewRegion(0x2010, make([]uint32, 8), nil), []dma.Addr{0x40}, 4, ErrMisaligned},
		{"segment misaligned", dma.NewRegion(0x2000, make([]uint32, 8), nil), []dma.Addr{0x50}, 4, ErrMisaligned},
		{"empty segment", dma.NewRegion(0x2000, make([]uint32, 8), nil), []dma.Addr{0x40}, 0, ErrSegmentSize},
		{"segment beyond 64 KiB", dma.NewRegion(0x2000, make([]uint32, 8), nil), []dma.Addr{0x40}, MaxSegmentBlocks + 1, ErrSegmentSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.mem, tt.addrs, tt.length)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuild_MaxSegment(t *testing.T) {
	mem := dma.NewRegion(0x2000, make([]uint32, 4), nil)

	table, err := Build(mem, []dma.Addr{0x10000}, MaxSegmentBlocks)
	require.NoError(t, err)
	assert.Equal(t, 1<<16, table.Entry(0).Bytes())
}

func TestBuildSegmentTable(t *testing.T) {
	a := dma.NewHeapAllocator(dma.DefaultHeapBase)
	segs := []*dma.Region{alloc(t, a, 16), alloc(t, a, 32)}
	mem, err := a.Alloc(2*EntrySize, trb.SegmentAlignment)
	require.NoError(t, err)

	table, err := BuildSegmentTable(mem, segs)
	require.NoError(t, err)
	assert.Equal(t, Segment{Base: segs[0].Base(), Blocks: 16}, table.Entry(0))
	assert.Equal(t, Segment{Base: segs[1].Base(), Blocks: 32}, table.Entry(1))
}

func TestReadSegmentTable(t *testing.T) {
	mem := dma.NewRegion(0x2000, make([]uint32, 8), nil)
	_, err := Build(mem, []dma.Addr{0x4000, 0x5000}, 16)
	require.NoError(t, err)

	table, err := ReadSegmentTable(mem, 2)
	require.NoError(t, err)
	assert.Equal(t, Segment{Base: 0x5000, Blocks: 16}, table.Entry(1))

	mem.Store32(8, 0)
	_, err = ReadSegmentTable(mem, 2)
	assert.ErrorIs(t, err, ErrSegmentSize)
}

func TestSegmentTable_EntryOutOfRange(t *testing.T) {
	mem := dma.NewRegion(0x2000, make([]uint32, 4), nil)
	table, err := Build(mem, []dma.Addr{0x4000}, 16)
	require.NoError(t, err)

	assert.Panics(t, func() { table.Entry(1) })
	assert.Panics(t, func() { table.Entry(-1) })
}

func TestSegment_Contains(t *testing.T) {
	s := Segment{Base: 0x4000, Blocks: 4}
	assert.True(t, s.Contains(0x4000))
	assert.True(t, s.Contains(0x403f))
	assert.False(t, s.Contains(0x4040))
	assert.False(t, s.Contains(0x3ff0))
}
