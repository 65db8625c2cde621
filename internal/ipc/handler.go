package ipc

import (
	"errors"
	"time"

	"nimf/internal/engine"
	"nimf/internal/ic"
)

// dispatch runs one request on the reactor and writes its reply.
//
// Requests naming an unknown context still get their normal reply so the
// client is not left waiting. Malformed payloads get no reply at all.
func (s *Server) dispatch(c *Connection, msg *Message) {
	if c.closed {
		return
	}
	op := msg.Header.Op
	s.metrics.MessageHandled(op.String())

	reply, err := s.handleMessage(c, msg)
	if err != nil {
		switch {
		case errors.Is(err, ErrMalformed):
			s.logger.Warn("malformed message", "conn", c.id, "op", op.String(), "error", err)
			s.metrics.MalformedMessage()
			return
		case errors.Is(err, ic.ErrContextNotFound), errors.Is(err, engine.ErrUnknownEngine):
			s.logger.Debug("request ignored", "conn", c.id, "op", op.String(), "error", err)
		default:
			s.logger.Warn("request failed", "conn", c.id, "op", op.String(), "error", err)
		}
	}

	if reply != nil {
		c.send(reply)
	}
}

func (s *Server) handleMessage(c *Connection, msg *Message) (*Message, error) {
	switch msg.Header.Op {
	case OpCreateContext:
		return s.handleCreateContext(c, msg)
	case OpDestroyContext:
		return s.handleDestroyContext(c, msg)
	case OpFilterEvent:
		return s.handleFilterEvent(c, msg)
	case OpReset:
		return s.withContext(c, msg, nil, (*ic.Context).Reset)
	case OpFocusIn:
		return s.withContext(c, msg, nil, (*ic.Context).FocusIn)
	case OpFocusOut:
		return s.withContext(c, msg, nil, (*ic.Context).FocusOut)
	case OpSetSurrounding:
		return s.handleSetSurrounding(c, msg)
	case OpGetSurrounding:
		return s.handleGetSurrounding(c, msg)
	case OpSetCursorLocation:
		return s.handleSetCursorLocation(c, msg)
	case OpSetUsePreedit:
		return s.handleSetUsePreedit(c, msg)
	case OpGetLoadedEngineIDs:
		return NewMessage(msg.Header.Op.Reply(), msg.Header.ICID, JoinStrings(s.hub.Engines().IDs())), nil
	case OpSetEngineByID:
		return s.handleSetEngineByID(c, msg)

	case OpPreeditStartReply, OpPreeditChangedReply, OpPreeditEndReply, OpCommitReply,
		OpRetrieveSurroundingReply, OpDeleteSurroundingReply, OpEngineChangedReply:
		return nil, nil

	default:
		s.logger.Debug("unexpected message from client", "conn", c.id, "op", msg.Header.Op.String())
		return nil, nil
	}
}

func emptyReply(msg *Message) *Message {
	return NewMessage(msg.Header.Op.Reply(), msg.Header.ICID, nil)
}

// withContext looks up the message's context and runs fn on it. The reply
// is sent whether or not the context exists.
func (s *Server) withContext(c *Connection, msg *Message, payload []byte, fn func(*ic.Context)) (*Message, error) {
	reply := NewMessage(msg.Header.Op.Reply(), msg.Header.ICID, payload)
	ctx, err := s.hub.Client(c.id, msg.Header.ICID)
	if err != nil {
		return reply, err
	}
	fn(ctx)
	return reply, nil
}

func (s *Server) handleCreateContext(c *Connection, msg *Message) (*Message, error) {
	kind, err := DecodeKind(msg.Payload)
	if err != nil {
		return nil, err
	}
	icKind := ic.KindRegular
	if kind == ContextAgent {
		icKind = ic.KindAgent
	}

	ctx, err := s.hub.CreateClient(c.id, msg.Header.ICID, icKind, c)
	if err != nil {
		return NewMessage(OpCreateContextReply, 0, nil), err
	}
	s.logger.Debug("context created", "context", ctx.String())
	return NewMessage(OpCreateContextReply, ctx.ID(), nil), nil
}

func (s *Server) handleDestroyContext(c *Connection, msg *Message) (*Message, error) {
	err := s.hub.DestroyClient(c.id, msg.Header.ICID)
	return emptyReply(msg), err
}

func (s *Server) handleFilterEvent(c *Connection, msg *Message) (*Message, error) {
	ev, err := DecodeEvent(msg.Payload)
	if err != nil {
		return nil, err
	}
	ctx, err := s.hub.Client(c.id, msg.Header.ICID)
	if err != nil {
		return NewMessage(OpFilterEventReply, msg.Header.ICID, EncodeBool(false)), err
	}
	start := time.Now()
	consumed := ctx.FilterEvent(ev)
	s.metrics.ObserveFilter(time.Since(start))
	return NewMessage(OpFilterEventReply, msg.Header.ICID, EncodeBool(consumed)), nil
}

func (s *Server) handleSetSurrounding(c *Connection, msg *Message) (*Message, error) {
	text, cursor, err := DecodeSetSurrounding(msg.Payload)
	if err != nil {
		return nil, err
	}
	return s.withContext(c, msg, nil, func(ctx *ic.Context) {
		ctx.SetSurrounding(text, cursor)
	})
}

func (s *Server) handleGetSurrounding(c *Connection, msg *Message) (*Message, error) {
	ctx, err := s.hub.Client(c.id, msg.Header.ICID)
	if err != nil {
		return NewMessage(OpGetSurroundingReply, msg.Header.ICID, EncodeSurrounding("", 0, false)), err
	}
	text, cursor, ok := ctx.Surrounding()
	return NewMessage(OpGetSurroundingReply, msg.Header.ICID, EncodeSurrounding(text, cursor, ok)), nil
}

func (s *Server) handleSetCursorLocation(c *Connection, msg *Message) (*Message, error) {
	area, err := DecodeRect(msg.Payload)
	if err != nil {
		return nil, err
	}
	return s.withContext(c, msg, nil, func(ctx *ic.Context) {
		ctx.SetCursorLocation(area)
	})
}

func (s *Server) handleSetUsePreedit(c *Connection, msg *Message) (*Message, error) {
	use, err := DecodeBool(msg.Payload)
	if err != nil {
		return nil, err
	}
	return s.withContext(c, msg, nil, func(ctx *ic.Context) {
		ctx.SetUsePreedit(use)
	})
}

// handleSetEngineByID rebinds every context on every connection and every
// XIM context. An unknown id changes nothing.
func (s *Server) handleSetEngineByID(_ *Connection, msg *Message) (*Message, error) {
	id := DecodeString(msg.Payload)
	return emptyReply(msg), s.hub.SetEngineByID(id)
}
