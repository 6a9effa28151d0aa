package remote

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/comm"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// Client is a driver.Device on the far side of a telegram link
type Client struct {
	pool   *comm.Pool
	layout driver.Layout
}

// NewClient returns a client sending over connections from pool.  The layout
// is fetched once, here.
func NewClient(pool *comm.Pool) (*Client, error) {
	c := &Client{pool: pool}
	var w wireLayout
	if err := c.call(context.Background(), opLayout, nil, &w); err != nil {
		return nil, err
	}
	c.layout = w.layout()
	if err := c.layout.Validate(); err != nil {
		return nil, errors.Wrap(err, "remote layout")
	}
	return c, nil
}

// Dial connects to the daemon at addr with up to conns concurrent connections
func Dial(addr string, serial bool, conns int) (*Client, error) {
	return NewClient(comm.NewPool(conns, 30*time.Second, comm.Maker(addr, serial)))
}

// Close closes the idle connections of the client
func (c *Client) Close() error {
	return c.pool.Close()
}

// exchange sends one request on a pooled connection.  A connection that
// failed or was interrupted is not reused: its stream may be mid telegram.
func (c *Client) exchange(ctx context.Context, op byte, payload []byte) (comm.Telegram, error) {
	conn, err := c.pool.Get()
	if err != nil {
		return comm.Telegram{}, camerr.Channel(opNames[op], 0, err)
	}
	done := make(chan struct{})
	closed := make(chan bool, 1)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
				closed <- true
			case <-done:
				closed <- false
			}
		}()
	} else {
		closed <- false
	}
	resp, err := comm.Transact(conn, comm.Telegram{Op: op, Data: payload})
	close(done)
	if <-closed {
		c.pool.Destroy(conn)
		if err != nil {
			return comm.Telegram{}, camerr.Channel(opNames[op], 0, ctx.Err())
		}
		return resp, nil
	}
	if err != nil {
		c.pool.Destroy(conn)
		return comm.Telegram{}, camerr.Channel(opNames[op], 0, err)
	}
	c.pool.Put(conn)
	return resp, nil
}

// call runs op and decodes the reply into out, if out is not nil
func (c *Client) call(ctx context.Context, op byte, req interface{}, out interface{}) error {
	var payload []byte
	switch r := req.(type) {
	case nil:
	case []byte:
		payload = r
	default:
		payload = encode(r)
	}
	resp, err := c.exchange(ctx, op, payload)
	if err != nil {
		return err
	}
	switch resp.Op {
	case opError:
		return decodeError(resp.Data)
	case opReply:
	default:
		return camerr.Channel(opNames[op], 0, errors.Errorf("unexpected reply %02x", resp.Op))
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(*[]uint32); ok {
		*w, err = decodeWords(resp.Data)
		return err
	}
	return decode(resp.Data, out)
}

func timeoutMs(ctx context.Context) uint32 {
	dl, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	ms := time.Until(dl).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return uint32(ms)
}

// Layout satisfies driver.ParamMemory
func (c *Client) Layout() driver.Layout {
	return c.layout
}

// FrameWord satisfies driver.ParamMemory
func (c *Client) FrameWord(port, slot, index int) (uint32, error) {
	var v uint32
	err := c.call(context.Background(), opFrameWord, wordReq{int32(port), int32(slot), int32(index)}, &v)
	return v, err
}

// PastWord satisfies driver.ParamMemory
func (c *Client) PastWord(port, slot, index int) (uint32, error) {
	var v uint32
	err := c.call(context.Background(), opPastWord, wordReq{int32(port), int32(slot), int32(index)}, &v)
	return v, err
}

// Global satisfies driver.ParamMemory
func (c *Client) Global(port, index int) (uint32, error) {
	var v uint32
	err := c.call(context.Background(), opGlobal, wordReq{Port: int32(port), Index: int32(index)}, &v)
	return v, err
}

// SetGlobal satisfies driver.ParamMemory
func (c *Client) SetGlobal(port, index int, v uint32) error {
	return c.call(context.Background(), opSetGlobal, setReq{int32(port), int32(index), v}, nil)
}

// FrameRecord satisfies driver.ParamMemory
func (c *Client) FrameRecord(port, slot int) ([]uint32, error) {
	var rec []uint32
	err := c.call(context.Background(), opFrameRecord, wordReq{Port: int32(port), Slot: int32(slot)}, &rec)
	return rec, err
}

// GlobalRecord satisfies driver.ParamMemory
func (c *Client) GlobalRecord(port int) ([]uint32, error) {
	var rec []uint32
	err := c.call(context.Background(), opGlobalRecord, wordReq{Port: int32(port)}, &rec)
	return rec, err
}

// Commit satisfies driver.Committer
func (c *Client) Commit(port int, b driver.Batch) (uint32, error) {
	body, _ := b.MarshalBinary()
	var f uint32
	err := c.call(context.Background(), opCommit, encode(int32(port), body), &f)
	return f, err
}

// WaitFrame satisfies driver.FrameClock
func (c *Client) WaitFrame(ctx context.Context, port int, frame uint32) (uint32, error) {
	var f uint32
	err := c.call(ctx, opWaitFrame, waitReq{int32(port), frame, timeoutMs(ctx)}, &f)
	return f, err
}

// ResetFrames satisfies driver.FrameClock
func (c *Client) ResetFrames(port int) error {
	return c.call(context.Background(), opResetFrames, wordReq{Port: int32(port)}, nil)
}

// OpenGamma satisfies driver.GammaOpener
func (c *Client) OpenGamma() (driver.GammaChannel, error) {
	var r struct {
		ID    uint32
		Slots int32
	}
	if err := c.call(context.Background(), opGammaOpen, nil, &r); err != nil {
		return nil, err
	}
	return &gammaChannel{c: c, id: r.ID, slots: int(r.Slots)}, nil
}

// OpenHistogram satisfies driver.HistogramOpener
func (c *Client) OpenHistogram() (driver.HistogramHandle, error) {
	var id uint32
	if err := c.call(context.Background(), opHistOpen, nil, &id); err != nil {
		return nil, err
	}
	return &histHandle{c: c, id: id}, nil
}

type gammaChannel struct {
	c     *Client
	id    uint32
	slots int
}

func (g *gammaChannel) Submit(req driver.GammaRequest) error {
	r := gammaReq{ID: g.id, Scale: req.Scale, Hash16: req.Hash16, Mode: req.Mode, Color: req.Color}
	if req.Table != nil {
		r.HasTable = true
		r.Table = *req.Table
	}
	return g.c.call(context.Background(), opGammaSubmit, &r, nil)
}

func (g *gammaChannel) Cursor() (int, error) {
	var i int32
	err := g.c.call(context.Background(), opGammaCursor, idReq{ID: g.id}, &i)
	return int(i), err
}

func (g *gammaChannel) Slot(index int) (driver.GammaSlot, error) {
	var s driver.GammaSlot
	err := g.c.call(context.Background(), opGammaSlot, idReq{g.id, int32(index)}, &s)
	return s, err
}

func (g *gammaChannel) IsCurrent() (bool, error) {
	var ok bool
	err := g.c.call(context.Background(), opGammaCurrent, idReq{ID: g.id}, &ok)
	return ok, err
}

func (g *gammaChannel) Slots() int {
	return g.slots
}

func (g *gammaChannel) Close() error {
	return g.c.call(context.Background(), opGammaClose, idReq{ID: g.id}, nil)
}

type histHandle struct {
	c  *Client
	id uint32
}

func (h *histHandle) SelectChannel(port, sub int) (int, error) {
	var n int32
	err := h.c.call(context.Background(), opHistSelect, selectReq{h.id, int32(port), int32(sub)}, &n)
	return int(n), err
}

func (h *histHandle) SetWaitMode(m driver.WaitMode) error {
	return h.c.call(context.Background(), opHistWait, idReq{h.id, int32(m)}, nil)
}

func (h *histHandle) SetNeeded(mask uint32) error {
	return h.c.call(context.Background(), opHistNeeded, idReq{h.id, int32(mask)}, nil)
}

func (h *histHandle) RequestFrame(ctx context.Context, frame uint32) (int, error) {
	var i int32
	err := h.c.call(ctx, opHistRequest, histReq{h.id, frame, timeoutMs(ctx)}, &i)
	return int(i), err
}

func (h *histHandle) Record(index int) (driver.HistogramRecord, error) {
	var rec driver.HistogramRecord
	err := h.c.call(context.Background(), opHistRecord, idReq{h.id, int32(index)}, &rec)
	return rec, err
}

func (h *histHandle) Close() error {
	return h.c.call(context.Background(), opHistClose, idReq{ID: h.id}, nil)
}

var _ driver.Device = (*Client)(nil)
var _ io.Closer = (*Client)(nil)
