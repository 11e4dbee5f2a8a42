package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/session"
	"voxelforge.ai/internal/transport/ws"
)

// bot walks a player across the world so the server keeps generating
// chunks ahead of it, and logs session progress as it arrives.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		speed = flag.Float64("speed", 8, "blocks per step")
		every = flag.Duration("every", 500*time.Millisecond, "step interval")
		seed  = flag.Int64("seed", 0, "heading seed (0 uses the clock)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := ws.HelloMsg{
		Type:            ws.TypeHello,
		ProtocolVersion: ws.ProtocolVersion,
		ClientName:      *name,
		Events:          true,
		MaxQueue:        256,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(*seed))
	heading := r.Float64() * 2 * math.Pi
	pos := coords.WorldPos{0, 64, 0}

	tick := time.NewTicker(*every)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			handleFrame(logger, msg)
		case <-tick.C:
			// Drift the heading a little so the walk covers new ground.
			heading += (r.Float64() - 0.5) * 0.4
			pos[0] += math.Cos(heading) * *speed
			pos[2] += math.Sin(heading) * *speed
			_ = conn.WriteJSON(ws.PositionMsg{Type: ws.TypePosition, ProtocolVersion: ws.ProtocolVersion, Pos: pos})
			c := pos.Chunk()
			_ = conn.WriteJSON(ws.GetChunkMsg{Type: ws.TypeGetChunk, ProtocolVersion: ws.ProtocolVersion, X: c.X, Z: c.Z})
		}
	}
}

func handleFrame(logger *log.Logger, msg []byte) {
	base, err := ws.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case ws.TypeWelcome:
		var w ws.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		logger.Printf("WELCOME client_id=%s seed=%d load_radius=%d", w.ClientID, w.World.Seed, w.World.LoadRadius)
	case ws.TypeChunk:
		var c ws.ChunkMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return
		}
		logger.Printf("chunk %d,%d %s hash=%016x", c.X, c.Z, c.Status, c.ContentHash)
	case ws.TypeEvent:
		var e ws.EventMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		ev, err := session.UnmarshalEvent(e.Event)
		if err != nil {
			return
		}
		switch ev := ev.(type) {
		case *session.SessionCompleted:
			logger.Printf("session %s completed: %d chunks, success %.2f", ev.SessionID, ev.Progress.CompletedChunks, ev.Progress.SuccessRate)
		case *session.SessionFailed:
			logger.Printf("session %s failed: %s", ev.SessionID, ev.Reason)
		case *session.BatchFailed:
			logger.Printf("batch %d attempt %d failed (retry=%t): %s", ev.BatchID, ev.Attempt, ev.WillRetry, ev.Reason)
		}
	case ws.TypeError:
		var e ws.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		logger.Printf("server error %s: %s", e.Code, e.Message)
	}
}
