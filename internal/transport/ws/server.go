package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/engine"
	"voxelforge.ai/internal/session"
)

// World is the part of engine.World a client connection drives.
type World interface {
	Seed() coords.WorldSeed
	LoadRadius() int
	ChunkHeight() int
	UpdatePlayerPosition(pos coords.WorldPos) error
	GetChunk(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error)
	SubscribeEvents(buffer int) (<-chan session.Event, func())
}

type Server struct {
	world World
	log   *log.Logger

	upgrader websocket.Upgrader

	clients       atomic.Int64
	droppedFrames atomic.Uint64
}

func NewServer(w World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Clients reports the number of connections past the handshake.
func (s *Server) Clients() int64 { return s.clients.Load() }

// DroppedFrames counts event frames skipped because a client queue was full.
func (s *Server) DroppedFrames() uint64 { return s.droppedFrames.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, clientID, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.clients.Add(1)
		defer s.clients.Add(-1)
		s.printf("client %s (%s) connected", clientID, hello.ClientName)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		maxQ := hello.MaxQueue
		if maxQ <= 0 {
			maxQ = 64
		}
		if maxQ > 1024 {
			maxQ = 1024
		}
		out := make(chan []byte, maxQ)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		if hello.Events {
			events, stop := s.world.SubscribeEvents(maxQ)
			defer stop()
			go s.forwardEvents(ctx, events, out)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(ctx, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		s.printf("client %s disconnected", clientID)
	}
}

func (s *Server) forwardEvents(ctx context.Context, events <-chan session.Event, out chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			raw, err := session.MarshalEvent(ev)
			if err != nil {
				continue
			}
			b, err := json.Marshal(EventMsg{Type: TypeEvent, ProtocolVersion: ProtocolVersion, Event: raw})
			if err != nil {
				continue
			}
			select {
			case out <- b:
			default:
				s.droppedFrames.Add(1)
			}
		}
	}
}

// handle returns the reply for one client frame, or nil when none is due.
func (s *Server) handle(ctx context.Context, msg []byte) any {
	base, err := DecodeBase(msg)
	if err != nil {
		return errorMsg("BAD_FRAME", err.Error())
	}
	if base.ProtocolVersion != ProtocolVersion {
		return errorMsg("BAD_VERSION", "protocol_version must be "+ProtocolVersion)
	}
	switch base.Type {
	case TypePosition:
		var m PositionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg("BAD_FRAME", err.Error())
		}
		if err := s.world.UpdatePlayerPosition(coords.WorldPos(m.Pos)); err != nil {
			return errorMsg("POSITION_REJECTED", err.Error())
		}
		return nil
	case TypeGetChunk:
		var m GetChunkMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg("BAD_FRAME", err.Error())
		}
		c := coords.ChunkCoord{X: m.X, Z: m.Z}
		d, err := s.world.GetChunk(ctx, c)
		if err != nil && d == nil {
			if errors.Is(err, engine.ErrNotGenerated) {
				return chunkMsg(c, nil)
			}
			return errorMsg("CHUNK_UNAVAILABLE", err.Error())
		}
		return chunkMsg(c, d)
	}
	return errorMsg("UNKNOWN_TYPE", base.Type)
}

func errorMsg(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: ProtocolVersion, Code: code, Message: message}
}

func (s *Server) handshake(conn *websocket.Conn) (HelloMsg, string, bool) {
	var hello HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, "", false
	}

	base, err := DecodeBase(msg)
	if err != nil || base.Type != TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return hello, "", false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, "", false
	}
	if hello.ProtocolVersion != ProtocolVersion {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return hello, "", false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	clientID := uuid.NewString()
	welcome := WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: ProtocolVersion,
		ClientID:        clientID,
		World: WorldParams{
			Seed:        int64(s.world.Seed()),
			ChunkSize:   [2]int{coords.ChunkSize, coords.ChunkSize},
			ChunkHeight: s.world.ChunkHeight(),
			LoadRadius:  s.world.LoadRadius(),
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return hello, "", false
	}
	return hello, clientID, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
