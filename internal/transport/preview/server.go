// Package preview serves the current mesh to websocket viewers.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"voxelander/internal/previewproto"
	"voxelander/internal/voxel"
)

const (
	BootstrapPath = "/v1/preview/bootstrap"
	WSPath        = "/v1/preview/ws"
)

// Update is what the editor publishes after a frame that changed geometry
// or view state.
type Update struct {
	Session string
	Grid    previewproto.GridParams
	Cursor  mgl32.Vec3
	Color   mgl32.Vec3
	Palette []mgl32.Vec3
	Batches int
	Cells   int
	Digest  string
	Mesh    voxel.Mesh
}

// frame is immutable once stored.
type frame struct {
	boot    previewproto.BootstrapResponse
	header  []byte
	payload []byte
}

type Server struct {
	log         *log.Logger
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	seq      atomic.Uint64
	cur      atomic.Pointer[frame]

	mu   sync.Mutex
	subs map[uint64]chan struct{}
}

func NewServer(logger *log.Logger, allowRemote bool) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[preview] ", log.LstdFlags)
	}
	return &Server{
		log:         logger,
		allowRemote: allowRemote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: map[uint64]chan struct{}{},
	}
}

// Publish replaces the current frame and wakes every subscriber. Slow
// subscribers skip straight to the newest frame.
func (s *Server) Publish(u Update) uint64 {
	seq := s.seq.Add(1)
	stats := previewproto.Stats{
		Batches:  u.Batches,
		Cells:    u.Cells,
		Vertices: u.Mesh.VertexCount(),
		Faces:    u.Mesh.FaceCount(),
		Digest:   u.Digest,
	}
	palette := make([][3]float32, 0, len(u.Palette))
	for _, c := range u.Palette {
		palette = append(palette, [3]float32(c))
	}
	hdr := previewproto.FrameMsg{
		Type:            previewproto.TypeFrame,
		ProtocolVersion: previewproto.Version,
		Seq:             seq,
		Stride:          voxel.VertexStride,
		FloatCount:      len(u.Mesh.Vertices),
		IndexCount:      len(u.Mesh.Indices),
		Cursor:          [3]float32(u.Cursor),
		Color:           [3]float32(u.Color),
		Grid:            u.Grid,
		Stats:           stats,
	}
	b, err := json.Marshal(hdr)
	if err != nil {
		s.log.Printf("frame %d: %v", seq, err)
		return seq
	}
	s.cur.Store(&frame{
		boot: previewproto.BootstrapResponse{
			ProtocolVersion: previewproto.Version,
			Session:         u.Session,
			Seq:             seq,
			Grid:            u.Grid,
			Stats:           stats,
			Palette:         palette,
		},
		header:  b,
		payload: previewproto.EncodeGeometry(u.Mesh.Vertices, u.Mesh.Indices),
	})

	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	return seq
}

// Clients returns the number of subscribed viewers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BootstrapPath, s.BootstrapHandler())
	mux.HandleFunc(WSPath, s.WSHandler())
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) allowed(r *http.Request) bool {
	return s.allowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := previewproto.BootstrapResponse{ProtocolVersion: previewproto.Version}
		if f := s.cur.Load(); f != nil {
			resp = f.boot
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !validSubscribe(msg) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		notify := make(chan struct{}, 1)
		notify <- struct{}{}
		s.mu.Lock()
		s.subs[id] = notify
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		s.log.Printf("viewer V%d connected from %s", id, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. notify sends the latest frame if it is new;
		// resend sends it even when this viewer already has it.
		resend := make(chan struct{}, 1)
		writeErr := make(chan error, 1)
		go func() {
			var sent *frame
			for {
				force := false
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-notify:
				case <-resend:
					force = true
				}
				f := s.cur.Load()
				if f == nil || (f == sent && !force) {
					continue
				}
				if err := writeFrame(conn, f); err != nil {
					writeErr <- err
					return
				}
				sent = f
			}
		}()

		// Reader loop: a repeated SUBSCRIBE asks for the current frame again.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if validSubscribe(msg) {
				select {
				case resend <- struct{}{}:
				default:
				}
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case err := <-writeErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Printf("viewer V%d: %v", id, err)
			}
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("viewer V%d disconnected", id)
	}
}

func writeFrame(conn *websocket.Conn, f *frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, f.header); err != nil {
		return fmt.Errorf("frame header: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, f.payload); err != nil {
		return fmt.Errorf("frame payload: %w", err)
	}
	return nil
}

func validSubscribe(msg []byte) bool {
	var sub previewproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return false
	}
	return sub.Type == previewproto.TypeSubscribe && sub.ProtocolVersion == previewproto.Version
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
