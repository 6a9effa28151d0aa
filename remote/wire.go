/*Package remote carries a camera driver over a telegram link.

A Server runs next to the driver (on the camera, or around a simulator) and
answers telegrams; a Client on the host implements every driver interface by
sending them.  Stateful cache channels (gamma cursors, histogram handles) live
on the server and are named by an id, so a client may use any of its pooled
connections for any step of a protocol.

All payloads are little endian.  A reply is either opReply with the result, or
opError with the error kind, its channel code and message; the client rebuilds
the same error taxonomy the driver produced.
*/
package remote

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

var order = binary.LittleEndian

// operations
const (
	opReply byte = 0x01
	opError byte = 0x02

	opLayout       byte = 0x10
	opFrameWord    byte = 0x11
	opPastWord     byte = 0x12
	opGlobal       byte = 0x13
	opSetGlobal    byte = 0x14
	opFrameRecord  byte = 0x15
	opGlobalRecord byte = 0x16

	opCommit      byte = 0x20
	opWaitFrame   byte = 0x21
	opResetFrames byte = 0x22

	opGammaOpen    byte = 0x30
	opGammaSubmit  byte = 0x31
	opGammaCursor  byte = 0x32
	opGammaSlot    byte = 0x33
	opGammaCurrent byte = 0x34
	opGammaClose   byte = 0x35

	opHistOpen    byte = 0x40
	opHistSelect  byte = 0x41
	opHistWait    byte = 0x42
	opHistNeeded  byte = 0x43
	opHistRequest byte = 0x44
	opHistRecord  byte = 0x45
	opHistClose   byte = 0x46
)

var opNames = map[byte]string{
	opLayout:       "layout",
	opFrameWord:    "frame word",
	opPastWord:     "past word",
	opGlobal:       "global",
	opSetGlobal:    "set global",
	opFrameRecord:  "frame record",
	opGlobalRecord: "global record",
	opCommit:       "commit",
	opWaitFrame:    "frame wait",
	opResetFrames:  "reset frames",
	opGammaOpen:    "gamma open",
	opGammaSubmit:  "gamma submit",
	opGammaCursor:  "gamma cursor",
	opGammaSlot:    "gamma slot",
	opGammaCurrent: "gamma current",
	opGammaClose:   "gamma close",
	opHistOpen:     "hist open",
	opHistSelect:   "hist select",
	opHistWait:     "hist wait mode",
	opHistNeeded:   "hist needed",
	opHistRequest:  "hist request",
	opHistRecord:   "hist record",
	opHistClose:    "hist close",
}

// request and reply bodies, all fixed size

type wireLayout struct {
	Ports, SubChannels, FrameRing, PastRing, FramePars, GlobalsBase, NumGlobals int32
	SaveFrom, SaveNum, DefaultAhead, GammaSlots, HistogramSlots              int32
}

func toWire(l driver.Layout) wireLayout {
	return wireLayout{
		int32(l.Ports), int32(l.SubChannels), int32(l.FrameRing), int32(l.PastRing),
		int32(l.FramePars), int32(l.GlobalsBase), int32(l.NumGlobals),
		int32(l.SaveFrom), int32(l.SaveNum), int32(l.DefaultAhead), int32(l.GammaSlots), int32(l.HistogramSlots),
	}
}

func (w wireLayout) layout() driver.Layout {
	return driver.Layout{
		Ports: int(w.Ports), SubChannels: int(w.SubChannels), FrameRing: int(w.FrameRing), PastRing: int(w.PastRing),
		FramePars: int(w.FramePars), GlobalsBase: int(w.GlobalsBase), NumGlobals: int(w.NumGlobals),
		SaveFrom: int(w.SaveFrom), SaveNum: int(w.SaveNum), DefaultAhead: int(w.DefaultAhead),
		GammaSlots: int(w.GammaSlots), HistogramSlots: int(w.HistogramSlots),
	}
}

type wordReq struct {
	Port, Slot, Index int32
}

type setReq struct {
	Port, Index int32
	Value       uint32
}

// waitReq carries the frame and how long the caller is willing to wait, 0 for
// as long as the server allows
type waitReq struct {
	Port      int32
	Frame     uint32
	TimeoutMs uint32
}

type gammaReq struct {
	ID       uint32
	Scale    uint16
	Hash16   uint16
	Mode     byte
	Color    byte
	HasTable bool
	Table    [driver.GammaTableLen]uint16
}

type idReq struct {
	ID  uint32
	Arg int32
}

type selectReq struct {
	ID        uint32
	Port, Sub int32
}

type histReq struct {
	ID        uint32
	Frame     uint32
	TimeoutMs uint32
}

type errReply struct {
	Kind camerr.Kind
	Code int32
}

func encode(vs ...interface{}) []byte {
	var buf bytes.Buffer
	for _, v := range vs {
		if b, ok := v.([]byte); ok {
			buf.Write(b)
			continue
		}
		// only fixed size values are passed here
		binary.Write(&buf, order, v)
	}
	return buf.Bytes()
}

func decode(b []byte, v interface{}) error {
	if err := binary.Read(bytes.NewReader(b), order, v); err != nil {
		return errors.Wrapf(err, "decoding %T", v)
	}
	return nil
}

func decodeWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, errors.Errorf("word payload of %d bytes", len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = order.Uint32(b[4*i:])
	}
	return out, nil
}

func encodeError(err error) []byte {
	return encode(errReply{Kind: camerr.KindOf(err), Code: int32(camerr.Code(err))}, []byte(err.Error()))
}

func decodeError(b []byte) error {
	var e errReply
	if err := decode(b, &e); err != nil {
		return err
	}
	return camerr.FromKind(e.Kind, int(e.Code), string(b[binary.Size(e):]))
}
