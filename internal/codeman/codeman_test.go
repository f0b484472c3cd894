package codeman_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovm/stackwalk-go/internal/codeman"
	"github.com/ferrovm/stackwalk-go/internal/mem"
	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
)

func method(name string, start mem.Addr, size uint32, p codeman.Program) *codeman.MethodInfo {
	mi := &codeman.MethodInfo{Name: name, Start: start, Size: size}
	mi.SetUnwindProgram(p)
	return mi
}

func TestTableManagerFindMethodInfo(t *testing.T) {
	mgr, err := codeman.NewTableManager("m",
		method("a", 0x1000, 0x100, codeman.Program(nil).FrameChain()),
		method("b", 0x1100, 0x80, codeman.Program(nil).FrameChain()),
	)
	require.NoError(t, err)

	mi, ok := mgr.FindMethodInfo(0x1000)
	require.True(t, ok)
	require.Equal(t, "a", mi.Name)

	mi, ok = mgr.FindMethodInfo(0x10ff)
	require.True(t, ok)
	require.Equal(t, "a", mi.Name)
	require.Equal(t, uint32(0xff), mi.Offset(0x10ff))

	mi, ok = mgr.FindMethodInfo(0x1100)
	require.True(t, ok)
	require.Equal(t, "b", mi.Name)

	_, ok = mgr.FindMethodInfo(0x1180)
	require.False(t, ok)
	_, ok = mgr.FindMethodInfo(0x0fff)
	require.False(t, ok)
}

func TestNewTableManagerValidation(t *testing.T) {
	_, err := codeman.NewTableManager("m", method("empty", 0x1000, 0, codeman.Program(nil).FrameChain()))
	require.Error(t, err)

	_, err = codeman.NewTableManager("m", &codeman.MethodInfo{Name: "nounwind", Start: 0x1000, Size: 0x10})
	require.Error(t, err)

	_, err = codeman.NewTableManager("m",
		method("a", 0x1000, 0x100, codeman.Program(nil).FrameChain()),
		method("b", 0x1080, 0x100, codeman.Program(nil).FrameChain()),
	)
	require.Error(t, err)
}

func TestUnwindFrameChain(t *testing.T) {
	buf := mem.NewBuffer()
	buf.Map(0x7000, 0x100)
	// Frame at FP 0x7040: saved FP then return address.
	buf.WriteWord(0x7040, 0x7080)
	buf.WriteWord(0x7048, 0x1044)

	mi := method("a", 0x1000, 0x100, codeman.Program(nil).FrameChain())
	mgr, err := codeman.NewTableManager("m", mi)
	require.NoError(t, err)

	d := regdisplay.New(regdisplay.AMD64())
	d.FP = 0x7040
	d.SP = 0x7020

	pc, ok := mgr.UnwindStackFrame(mi, d, buf)
	require.True(t, ok)
	require.Equal(t, mem.Addr(0x1044), pc)
	require.Equal(t, mem.Addr(0x7080), d.FP)
	require.Equal(t, mem.Addr(0x7050), d.SP)
	require.Equal(t, mem.Addr(0x1044), d.IP)
}

func TestUnwindFrameless(t *testing.T) {
	buf := mem.NewBuffer()
	buf.Map(0x7000, 0x100)
	// 32-byte frame; the return address sits in the top slot.
	buf.WriteWord(0x7038, 0x1010)

	mi := method("leaf", 0x1000, 0x100, codeman.Program(nil).Frameless(32))
	mgr, err := codeman.NewTableManager("m", mi)
	require.NoError(t, err)

	d := regdisplay.New(regdisplay.AMD64())
	d.SP = 0x7020
	d.FP = 0x7090

	pc, ok := mgr.UnwindStackFrame(mi, d, buf)
	require.True(t, ok)
	require.Equal(t, mem.Addr(0x1010), pc)
	require.Equal(t, mem.Addr(0x7040), d.SP)
	// A frameless pop leaves the frame pointer alone.
	require.Equal(t, mem.Addr(0x7090), d.FP)
}

func TestUnwindRestoreRegThenFrameChain(t *testing.T) {
	buf := mem.NewBuffer()
	buf.Map(0x7000, 0x100)
	buf.WriteWord(0x7030, 0xabcd)  // reg save slot at FP-16
	buf.WriteWord(0x7040, 0x7080)  // saved FP
	buf.WriteWord(0x7048, 0x1044)  // return address

	p := codeman.Program(nil).RestoreReg(2, -16).FrameChain()
	mi := method("a", 0x1000, 0x100, p)
	mgr, err := codeman.NewTableManager("m", mi)
	require.NoError(t, err)

	d := regdisplay.New(regdisplay.AMD64())
	d.FP = 0x7040

	_, ok := mgr.UnwindStackFrame(mi, d, buf)
	require.True(t, ok)
	require.Equal(t, uint64(0xabcd), d.Values[2])
	require.Equal(t, mem.Addr(0x7030), d.Locs[2])
}

func TestUnwindRejectsBrokenPrograms(t *testing.T) {
	buf := mem.NewBuffer()
	buf.Map(0x7000, 0x100)
	d := regdisplay.New(regdisplay.AMD64())
	d.FP = 0x7040

	mgr := &codeman.TableManager{}

	// Truncated restore op.
	mi := &codeman.MethodInfo{Name: "a", Start: 0x1000, Size: 0x10}
	mi.SetUnwindProgram(codeman.Program(nil).RestoreReg(1, -8)[:2])
	_, ok := mgr.UnwindStackFrame(mi, d, buf)
	require.False(t, ok)

	// No terminating frame op.
	mi.SetUnwindProgram(codeman.Program(nil).RestoreReg(0, -8))
	buf.WriteWord(0x7038, 1)
	_, ok = mgr.UnwindStackFrame(mi, d, buf)
	require.False(t, ok)

	// Register index out of range for the architecture.
	mi.SetUnwindProgram(codeman.Program(nil).RestoreReg(200, -8).FrameChain())
	_, ok = mgr.UnwindStackFrame(mi, d, buf)
	require.False(t, ok)
}

func TestRemapToGCSafePoint(t *testing.T) {
	mi := method("g", 0x1000, 0x200, codeman.Program(nil).FrameChain())
	mi.EHClauses = []codeman.EHClause{
		{TryStart: 0x10, TryEnd: 0x100, HandlerStart: 0x120, SafePointOffset: 0x124},
		{TryStart: 0x40, TryEnd: 0x80, HandlerStart: 0x150, SafePointOffset: 0x154},
	}
	mgr, err := codeman.NewTableManager("m", mi)
	require.NoError(t, err)

	// Only the outer clause covers 0x20.
	off, ok := mgr.RemapToGCSafePoint(mi, 0x20)
	require.True(t, ok)
	require.Equal(t, uint32(0x124), off)

	// Both cover 0x50; the nested clause wins.
	off, ok = mgr.RemapToGCSafePoint(mi, 0x50)
	require.True(t, ok)
	require.Equal(t, uint32(0x154), off)

	// TryEnd is exclusive.
	_, ok = mgr.RemapToGCSafePoint(mi, 0x100)
	require.False(t, ok)
	_, ok = mgr.RemapToGCSafePoint(mi, 0x0)
	require.False(t, ok)
}

func TestEnumGCRefsSkipsScalars(t *testing.T) {
	mi := method("g", 0x1000, 0x100, codeman.Program(nil).FrameChain())
	mi.GCSlots = []codeman.GCSlot{
		{SPOffset: 0, Kind: codeman.GCRefObject},
		{SPOffset: 8, Kind: codeman.GCRefScalar},
		{SPOffset: 16, Kind: codeman.GCRefByRef},
	}
	mgr, err := codeman.NewTableManager("m", mi)
	require.NoError(t, err)

	d := regdisplay.New(regdisplay.AMD64())
	d.SP = 0x7000

	var got []mem.Addr
	mgr.EnumGCRefs(mi, 0, d, func(slot mem.Addr, kind codeman.GCRefKind) {
		got = append(got, slot)
	})
	require.Equal(t, []mem.Addr{0x7000, 0x7010}, got)
}

func TestRegistryManagerFor(t *testing.T) {
	a, err := codeman.NewTableManager("a", method("f", 0x1000, 0x100, codeman.Program(nil).FrameChain()))
	require.NoError(t, err)
	b, err := codeman.NewTableManager("b", method("g", 0x2000, 0x100, codeman.Program(nil).FrameChain()))
	require.NoError(t, err)

	r, err := codeman.NewRegistry(
		codeman.Module{Name: "a", Start: 0x1000, End: 0x1800, Manager: a},
		codeman.Module{Name: "b", Start: 0x2000, End: 0x2800, Manager: b},
	)
	require.NoError(t, err)

	got, ok := r.ManagerFor(0x1400)
	require.True(t, ok)
	require.Equal(t, codeman.Manager(a), got)

	got, ok = r.ManagerFor(0x2000)
	require.True(t, ok)
	require.Equal(t, codeman.Manager(b), got)

	_, ok = r.ManagerFor(0x1800)
	require.False(t, ok)
	_, ok = r.ManagerFor(0x3000)
	require.False(t, ok)

	_, err = codeman.NewRegistry(
		codeman.Module{Name: "a", Start: 0x1000, End: 0x2100, Manager: a},
		codeman.Module{Name: "b", Start: 0x2000, End: 0x2800, Manager: b},
	)
	require.Error(t, err)
	_, err = codeman.NewRegistry(codeman.Module{Name: "nil", Start: 0x1000, End: 0x1100})
	require.Error(t, err)
}
