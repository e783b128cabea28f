package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func isUpgrade(r *http.Request) bool { return websocket.IsWebSocketUpgrade(r) }

// wsSink forwards job events to one websocket connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ev)
}

func (s *wsSink) write(ev model.Event) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

// handleProgress streams events of one job until the client goes away. The
// first message reflects the job's current state.
func (s Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner := ownerOf(r)
	if _, err := s.Jobs.Status(r.Context(), owner, id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Subscribe before reading the snapshot; publishes wait on mu until it
	// has been written.
	sink := &wsSink{conn: conn}
	sink.mu.Lock()
	s.Broadcaster.Subscribe(id, sink)
	defer s.Broadcaster.Release(id, sink)
	rec, err := s.Jobs.Status(r.Context(), owner, id)
	if err == nil {
		err = sink.write(currentEvent(rec))
	}
	sink.mu.Unlock()
	if err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func currentEvent(rec model.Record) model.Event {
	switch o := rec.Outcome.(type) {
	case model.Completed:
		res := o.Result
		return model.Event{Type: model.EventFinish, OverallProgress: 100, Stage: rec.Stage, Result: &res}
	case model.Failed:
		return model.Event{Type: model.EventError, Error: o.Error}
	default:
		return model.Event{
			Type:            model.EventProgress,
			OverallProgress: float64(rec.Progress),
			Stage:           rec.Stage,
			Message:         rec.Message,
		}
	}
}
