// Package tracepb defines the wire format of the walk-trace service: stack
// images going in, walk captures coming out. The messages are protobuf on
// the wire but maintained by hand over protowire, the same way the runtime
// maintains its other binary layouts; the schema is the field tags below.
package tracepb

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// WalkMode selects how a decoded image seeds its walk.
type WalkMode uint32

const (
	ModeTrace WalkMode = iota
	ModeException
	ModeGC
	ModeHijack
)

func (m WalkMode) String() string {
	switch m {
	case ModeTrace:
		return "trace"
	case ModeException:
		return "exception"
	case ModeGC:
		return "gc"
	case ModeHijack:
		return "hijack"
	default:
		return fmt.Sprintf("WalkMode(%d)", uint32(m))
	}
}

func consumeError(n int) error {
	return protowire.ParseError(n)
}

// Context is a captured register snapshot.
//
//	1: ip    uint64
//	2: sp    uint64
//	3: fp    uint64
//	4: saved repeated uint64
type Context struct {
	IP    uint64
	SP    uint64
	FP    uint64
	Saved []uint64
}

func (m *Context) appendWire(b []byte) []byte {
	if m.IP != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.IP)
	}
	if m.SP != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, m.SP)
	}
	if m.FP != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, m.FP)
	}
	for _, v := range m.Saved {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	return b
}

func (m *Context) MarshalBinary() ([]byte, error) {
	return m.appendWire(nil), nil
}

func (m *Context) UnmarshalBinary(data []byte) error {
	*m = Context{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.IP, data = v, data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.SP, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.FP, data = v, data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Saved, data = append(m.Saved, v), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// EHClause is one protected region of a method.
//
//	1: try_start         uint32
//	2: try_end           uint32
//	3: handler_start     uint32
//	4: safe_point_offset uint32
type EHClause struct {
	TryStart        uint32
	TryEnd          uint32
	HandlerStart    uint32
	SafePointOffset uint32
}

func (m *EHClause) appendWire(b []byte) []byte {
	if m.TryStart != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TryStart))
	}
	if m.TryEnd != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TryEnd))
	}
	if m.HandlerStart != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.HandlerStart))
	}
	if m.SafePointOffset != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SafePointOffset))
	}
	return b
}

func (m *EHClause) UnmarshalBinary(data []byte) error {
	*m = EHClause{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		if typ != protowire.VarintType || num < 1 || num > 4 {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch num {
		case 1:
			m.TryStart = uint32(v)
		case 2:
			m.TryEnd = uint32(v)
		case 3:
			m.HandlerStart = uint32(v)
		case 4:
			m.SafePointOffset = uint32(v)
		}
	}
	return nil
}

// GCSlot is one GC reference slot of a method's frame.
//
//	1: sp_offset sint32
//	2: kind      uint32
type GCSlot struct {
	SPOffset int32
	Kind     uint32
}

func (m *GCSlot) appendWire(b []byte) []byte {
	if m.SPOffset != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.SPOffset)))
	}
	if m.Kind != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	return b
}

func (m *GCSlot) UnmarshalBinary(data []byte) error {
	*m = GCSlot{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.SPOffset, data = int32(protowire.DecodeZigZag(v)), data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Kind, data = uint32(v), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// Method is one entry of a serialized method table.
//
//	1: name                string
//	2: start               uint64
//	3: size                uint32
//	4: is_funclet          bool
//	5: reverse_native_call bool
//	6: unwind              bytes
//	7: clauses             repeated EHClause
//	8: gc_slots            repeated GCSlot
type Method struct {
	Name              string
	Start             uint64
	Size              uint32
	IsFunclet         bool
	ReverseNativeCall bool
	Unwind            []byte
	Clauses           []*EHClause
	GCSlots           []*GCSlot
}

func (m *Method) appendWire(b []byte) []byte {
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Start != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Start)
	}
	if m.Size != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Size))
	}
	if m.IsFunclet {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.ReverseNativeCall {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if len(m.Unwind) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Unwind)
	}
	for _, c := range m.Clauses {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, c.appendWire(nil))
	}
	for _, s := range m.GCSlots {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, s.appendWire(nil))
	}
	return b
}

func (m *Method) UnmarshalBinary(data []byte) error {
	*m = Method{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Name, data = string(v), data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Start, data = v, data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Size, data = uint32(v), data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.IsFunclet, data = v != 0, data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ReverseNativeCall, data = v != 0, data[n:]
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Unwind, data = append([]byte(nil), v...), data[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			c := new(EHClause)
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Clauses, data = append(m.Clauses, c), data[n:]
		case num == 8 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			s := new(GCSlot)
			if err := s.UnmarshalBinary(v); err != nil {
				return err
			}
			m.GCSlots, data = append(m.GCSlots, s), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// Thunk is one transition-trampoline code range.
//
//	1: name  string
//	2: kind  uint32
//	3: start uint64
//	4: end   uint64
type Thunk struct {
	Name  string
	Kind  uint32
	Start uint64
	End   uint64
}

func (m *Thunk) appendWire(b []byte) []byte {
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Kind != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	if m.Start != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Start)
	}
	if m.End != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, m.End)
	}
	return b
}

func (m *Thunk) UnmarshalBinary(data []byte) error {
	*m = Thunk{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Name, data = string(v), data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Kind, data = uint32(v), data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Start, data = v, data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.End, data = v, data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// Region is one mapped range of the image's address space.
//
//	1: base uint64
//	2: data bytes
type Region struct {
	Base uint64
	Data []byte
}

func (m *Region) appendWire(b []byte) []byte {
	if m.Base != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Base)
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	return b
}

func (m *Region) UnmarshalBinary(data []byte) error {
	*m = Region{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Base, data = v, data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Data, data = append([]byte(nil), v...), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// ExRecord is one in-flight exception record of the imaged thread.
//
//	1: sp           uint64
//	2: kind         uint32
//	3: clause_index uint32
//	4: context      Context
type ExRecord struct {
	SP          uint64
	Kind        uint32
	ClauseIndex uint32
	Context     *Context
}

func (m *ExRecord) appendWire(b []byte) []byte {
	if m.SP != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.SP)
	}
	if m.Kind != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	if m.ClauseIndex != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ClauseIndex))
	}
	if m.Context != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Context.appendWire(nil))
	}
	return b
}

func (m *ExRecord) UnmarshalBinary(data []byte) error {
	*m = ExRecord{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.SP, data = v, data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Kind, data = uint32(v), data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ClauseIndex, data = uint32(v), data[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Context = new(Context)
			if err := m.Context.UnmarshalBinary(v); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// StackImage is a complete recorded walk input: the code layout, the
// mapped stack memory, the thread state and the walk seed.
//
//	 1: arch             string
//	 2: regions          repeated Region
//	 3: methods          repeated Method
//	 4: thunks           repeated Thunk
//	 5: stack_lo         uint64
//	 6: stack_hi         uint64
//	 7: ex_records       repeated ExRecord
//	 8: context          Context
//	 9: transition_frame uint64
//	10: mode             uint32
//	11: hijack_fp        uint64
//	12: hijack_ret_loc   uint64
//	13: hijack_ret_kind  uint32
type StackImage struct {
	Arch            string
	Regions         []*Region
	Methods         []*Method
	Thunks          []*Thunk
	StackLo         uint64
	StackHi         uint64
	ExRecords       []*ExRecord
	Context         *Context
	TransitionFrame uint64
	Mode            WalkMode
	HijackFP        uint64
	HijackRetLoc    uint64
	HijackRetKind   uint32
}

func (m *StackImage) appendWire(b []byte) []byte {
	if m.Arch != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Arch)
	}
	for _, r := range m.Regions {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.appendWire(nil))
	}
	for _, me := range m.Methods {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, me.appendWire(nil))
	}
	for _, t := range m.Thunks {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendWire(nil))
	}
	if m.StackLo != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, m.StackLo)
	}
	if m.StackHi != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, m.StackHi)
	}
	for _, r := range m.ExRecords {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, r.appendWire(nil))
	}
	if m.Context != nil {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Context.appendWire(nil))
	}
	if m.TransitionFrame != 0 {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, m.TransitionFrame)
	}
	if m.Mode != 0 {
		b = protowire.AppendTag(b, 10, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Mode))
	}
	if m.HijackFP != 0 {
		b = protowire.AppendTag(b, 11, protowire.VarintType)
		b = protowire.AppendVarint(b, m.HijackFP)
	}
	if m.HijackRetLoc != 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, m.HijackRetLoc)
	}
	if m.HijackRetKind != 0 {
		b = protowire.AppendTag(b, 13, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.HijackRetKind))
	}
	return b
}

func (m *StackImage) MarshalBinary() ([]byte, error) {
	return m.appendWire(nil), nil
}

func (m *StackImage) UnmarshalBinary(data []byte) error {
	*m = StackImage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Arch, data = string(v), data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			r := new(Region)
			if err := r.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Regions, data = append(m.Regions, r), data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			me := new(Method)
			if err := me.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Methods, data = append(m.Methods, me), data[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			t := new(Thunk)
			if err := t.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Thunks, data = append(m.Thunks, t), data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.StackLo, data = v, data[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.StackHi, data = v, data[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			r := new(ExRecord)
			if err := r.UnmarshalBinary(v); err != nil {
				return err
			}
			m.ExRecords, data = append(m.ExRecords, r), data[n:]
		case num == 8 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Context = new(Context)
			if err := m.Context.UnmarshalBinary(v); err != nil {
				return err
			}
			data = data[n:]
		case num == 9 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.TransitionFrame, data = v, data[n:]
		case num == 10 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Mode, data = WalkMode(v), data[n:]
		case num == 11 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.HijackFP, data = v, data[n:]
		case num == 12 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.HijackRetLoc, data = v, data[n:]
		case num == 13 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.HijackRetKind, data = uint32(v), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// FrameRecord is one yielded frame of a capture.
//
//	1: control_pc           uint64
//	2: frame_pointer        uint64
//	3: method               string
//	4: code_offset          uint32
//	5: exceptionally_invoked bool
//	6: conservative_lo      uint64
//	7: conservative_hi      uint64
type FrameRecord struct {
	ControlPC            uint64
	FramePointer         uint64
	Method               string
	CodeOffset           uint32
	ExceptionallyInvoked bool
	ConservativeLo       uint64
	ConservativeHi       uint64
}

func (m *FrameRecord) appendWire(b []byte) []byte {
	if m.ControlPC != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ControlPC)
	}
	if m.FramePointer != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, m.FramePointer)
	}
	if m.Method != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.Method)
	}
	if m.CodeOffset != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CodeOffset))
	}
	if m.ExceptionallyInvoked {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.ConservativeLo != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ConservativeLo)
	}
	if m.ConservativeHi != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, m.ConservativeHi)
	}
	return b
}

func (m *FrameRecord) UnmarshalBinary(data []byte) error {
	*m = FrameRecord{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ControlPC, data = v, data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.FramePointer, data = v, data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Method, data = string(v), data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.CodeOffset, data = uint32(v), data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ExceptionallyInvoked, data = v != 0, data[n:]
		case num == 6 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ConservativeLo, data = v, data[n:]
		case num == 7 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.ConservativeHi, data = v, data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// WalkCapture is the result of walking one image.
//
//	1: capture_id  string
//	2: captured_at google.protobuf.Timestamp
//	3: stack_hash  uint64
//	4: frames      repeated FrameRecord
type WalkCapture struct {
	CaptureID  string
	CapturedAt time.Time
	StackHash  uint64
	Frames     []*FrameRecord
}

func (m *WalkCapture) appendWire(b []byte) ([]byte, error) {
	if m.CaptureID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.CaptureID)
	}
	if !m.CapturedAt.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(m.CapturedAt))
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, ts)
	}
	if m.StackHash != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, m.StackHash)
	}
	for _, f := range m.Frames {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, f.appendWire(nil))
	}
	return b, nil
}

func (m *WalkCapture) MarshalBinary() ([]byte, error) {
	return m.appendWire(nil)
}

func (m *WalkCapture) UnmarshalBinary(data []byte) error {
	*m = WalkCapture{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.CaptureID, data = string(v), data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return err
			}
			m.CapturedAt, data = ts.AsTime(), data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.StackHash, data = v, data[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			f := new(FrameRecord)
			if err := f.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Frames, data = append(m.Frames, f), data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// CaptureRequest asks the service to walk one image.
//
//	1: image StackImage
type CaptureRequest struct {
	Image *StackImage
}

func (m *CaptureRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	if m.Image != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Image.appendWire(nil))
	}
	return b, nil
}

func (m *CaptureRequest) UnmarshalBinary(data []byte) error {
	*m = CaptureRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Image = new(StackImage)
			if err := m.Image.UnmarshalBinary(v); err != nil {
				return err
			}
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
	}
	return nil
}

// CaptureResponse carries the capture and whether the stack matched one
// already seen.
//
//	1: capture      WalkCapture
//	2: deduplicated bool
type CaptureResponse struct {
	Capture      *WalkCapture
	Deduplicated bool
}

func (m *CaptureResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	if m.Capture != nil {
		cb, err := m.Capture.appendWire(nil)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	if m.Deduplicated {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (m *CaptureResponse) UnmarshalBinary(data []byte) error {
	*m = CaptureResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Capture = new(WalkCapture)
			if err := m.Capture.UnmarshalBinary(v); err != nil {
				return err
			}
			data = data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Deduplicated, data = v != 0, data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return consumeError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// RecentRequest asks for the newest captures, newest first.
//
//	1: limit uint32
type RecentRequest struct {
	Limit uint32
}

func (m *RecentRequest) MarshalBinary() ([]byte, error) {
	var b []byte
	if m.Limit != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Limit))
	}
	return b, nil
}

func (m *RecentRequest) UnmarshalBinary(data []byte) error {
	*m = RecentRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return consumeError(n)
			}
			m.Limit, data = uint32(v), data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
	}
	return nil
}

// RecentResponse carries the requested captures.
//
//	1: captures repeated WalkCapture
type RecentResponse struct {
	Captures []*WalkCapture
}

func (m *RecentResponse) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, c := range m.Captures {
		cb, err := c.appendWire(nil)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b, nil
}

func (m *RecentResponse) UnmarshalBinary(data []byte) error {
	*m = RecentResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return consumeError(n)
			}
			c := new(WalkCapture)
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			m.Captures, data = append(m.Captures, c), data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return consumeError(n)
		}
		data = data[n:]
	}
	return nil
}
