package remote

import (
	"bufio"
	"context"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/comm"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// Server answers telegrams on behalf of a driver
type Server struct {
	dev driver.Device

	// MaxWait bounds any blocking request, 0 for no bound
	MaxWait time.Duration

	mu     sync.Mutex
	next   uint32
	gammas map[uint32]driver.GammaChannel
	hists  map[uint32]*histEntry
	conns  map[io.Closer]struct{}
}

// a histogram handle with the lock that keeps one client's steps together
type histEntry struct {
	sync.Mutex
	h driver.HistogramHandle
}

// NewServer returns a server for dev
func NewServer(dev driver.Device) *Server {
	return &Server{
		dev:     dev,
		MaxWait: time.Minute,
		gammas:  map[uint32]driver.GammaChannel{},
		hists:   map[uint32]*histEntry{},
		conns:   map[io.Closer]struct{}{},
	}
}

// Serve accepts connections on ln until it is closed
func (s *Server) Serve(ln net.Listener) error {
	log.Println("serving camera driver at", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn answers telegrams on one connection until it fails or is closed.
// Requests on a connection are answered in order.
func (s *Server) ServeConn(conn io.ReadWriteCloser) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	r := bufio.NewReader(conn)
	for {
		req, err := comm.ReadTelegram(r)
		if err != nil {
			if err != io.EOF {
				log.Println("remote: dropping connection:", err)
			}
			return
		}
		data, err := s.handle(req)
		resp := comm.Telegram{Op: opReply, Data: data}
		if err != nil {
			resp = comm.Telegram{Op: opError, Data: encodeError(err)}
		}
		if err = comm.WriteTelegram(conn, resp); err != nil {
			log.Println("remote: dropping connection:", err)
			return
		}
	}
}

// Close closes every open connection and every cache channel
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	var first error
	for id, g := range s.gammas {
		if err := g.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.gammas, id)
	}
	for id, h := range s.hists {
		if err := h.h.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.hists, id)
	}
	return first
}

func (s *Server) waitContext(timeoutMs uint32) (context.Context, context.CancelFunc) {
	d := time.Duration(timeoutMs) * time.Millisecond
	if s.MaxWait > 0 && (d == 0 || d > s.MaxWait) {
		d = s.MaxWait
	}
	if d == 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

func (s *Server) gamma(id uint32) (driver.GammaChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gammas[id]
	if !ok {
		return nil, errors.Wrapf(camerr.ErrInvalidArgument, "no gamma channel %d", id)
	}
	return g, nil
}

func (s *Server) hist(id uint32) (*histEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hists[id]
	if !ok {
		return nil, errors.Wrapf(camerr.ErrInvalidArgument, "no histogram handle %d", id)
	}
	return h, nil
}

func (s *Server) register(g driver.GammaChannel, h driver.HistogramHandle) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if g != nil {
		s.gammas[s.next] = g
	} else {
		s.hists[s.next] = &histEntry{h: h}
	}
	return s.next
}

func (s *Server) handle(t comm.Telegram) ([]byte, error) {
	switch t.Op {
	case opLayout:
		return encode(toWire(s.dev.Layout())), nil

	case opFrameWord, opPastWord:
		var r wordReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		read := s.dev.FrameWord
		if t.Op == opPastWord {
			read = s.dev.PastWord
		}
		v, err := read(int(r.Port), int(r.Slot), int(r.Index))
		return encode(v), err

	case opGlobal:
		var r wordReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		v, err := s.dev.Global(int(r.Port), int(r.Index))
		return encode(v), err

	case opSetGlobal:
		var r setReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		return nil, s.dev.SetGlobal(int(r.Port), int(r.Index), r.Value)

	case opFrameRecord, opGlobalRecord:
		var r wordReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		var (
			rec []uint32
			err error
		)
		if t.Op == opFrameRecord {
			rec, err = s.dev.FrameRecord(int(r.Port), int(r.Slot))
		} else {
			rec, err = s.dev.GlobalRecord(int(r.Port))
		}
		if err != nil {
			return nil, err
		}
		return encode(rec), nil

	case opCommit:
		if len(t.Data) < 4 {
			return nil, errors.Wrap(camerr.ErrInvalidArgument, "short commit")
		}
		var b driver.Batch
		if err := b.UnmarshalBinary(t.Data[4:]); err != nil {
			return nil, err
		}
		f, err := s.dev.Commit(int(int32(order.Uint32(t.Data))), b)
		return encode(f), err

	case opWaitFrame:
		var r waitReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		ctx, cancel := s.waitContext(r.TimeoutMs)
		defer cancel()
		f, err := s.dev.WaitFrame(ctx, int(r.Port), r.Frame)
		return encode(f), err

	case opResetFrames:
		var r wordReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		return nil, s.dev.ResetFrames(int(r.Port))

	case opGammaOpen:
		g, err := s.dev.OpenGamma()
		if err != nil {
			return nil, err
		}
		return encode(s.register(g, nil), int32(g.Slots())), nil
	}

	if t.Op >= opGammaSubmit && t.Op <= opGammaClose {
		return s.handleGamma(t)
	}
	if t.Op >= opHistOpen && t.Op <= opHistClose {
		return s.handleHist(t)
	}
	return nil, errors.Wrapf(camerr.ErrInvalidArgument, "unknown operation %02x", t.Op)
}

func (s *Server) handleGamma(t comm.Telegram) ([]byte, error) {
	if t.Op == opGammaSubmit {
		var r gammaReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		g, err := s.gamma(r.ID)
		if err != nil {
			return nil, err
		}
		req := driver.GammaRequest{Scale: r.Scale, Hash16: r.Hash16, Mode: r.Mode, Color: r.Color}
		if r.HasTable {
			req.Table = &r.Table
		}
		return nil, g.Submit(req)
	}
	var r idReq
	if err := decode(t.Data, &r); err != nil {
		return nil, err
	}
	g, err := s.gamma(r.ID)
	if err != nil {
		return nil, err
	}
	switch t.Op {
	case opGammaCursor:
		i, err := g.Cursor()
		return encode(int32(i)), err
	case opGammaSlot:
		slot, err := g.Slot(int(r.Arg))
		return encode(slot), err
	case opGammaCurrent:
		ok, err := g.IsCurrent()
		return encode(ok), err
	default: // close
		s.mu.Lock()
		delete(s.gammas, r.ID)
		s.mu.Unlock()
		return nil, g.Close()
	}
}

func (s *Server) handleHist(t comm.Telegram) ([]byte, error) {
	switch t.Op {
	case opHistOpen:
		h, err := s.dev.OpenHistogram()
		if err != nil {
			return nil, err
		}
		return encode(s.register(nil, h)), nil
	case opHistSelect:
		var r selectReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		e, err := s.hist(r.ID)
		if err != nil {
			return nil, err
		}
		e.Lock()
		defer e.Unlock()
		n, err := e.h.SelectChannel(int(r.Port), int(r.Sub))
		return encode(int32(n)), err
	case opHistRequest:
		var r histReq
		if err := decode(t.Data, &r); err != nil {
			return nil, err
		}
		e, err := s.hist(r.ID)
		if err != nil {
			return nil, err
		}
		ctx, cancel := s.waitContext(r.TimeoutMs)
		defer cancel()
		e.Lock()
		defer e.Unlock()
		i, err := e.h.RequestFrame(ctx, r.Frame)
		return encode(int32(i)), err
	}

	var r idReq
	if err := decode(t.Data, &r); err != nil {
		return nil, err
	}
	e, err := s.hist(r.ID)
	if err != nil {
		return nil, err
	}
	e.Lock()
	defer e.Unlock()
	switch t.Op {
	case opHistWait:
		return nil, e.h.SetWaitMode(driver.WaitMode(r.Arg))
	case opHistNeeded:
		return nil, e.h.SetNeeded(uint32(r.Arg))
	case opHistRecord:
		rec, err := e.h.Record(int(r.Arg))
		if err != nil {
			return nil, err
		}
		return encode(&rec), nil
	default: // close
		s.mu.Lock()
		delete(s.hists, r.ID)
		s.mu.Unlock()
		return nil, e.h.Close()
	}
}
