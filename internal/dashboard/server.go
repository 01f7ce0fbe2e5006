// Package dashboard serves a read-only view of the event log: an HTML page
// for today, JSON endpoints, archived frames and a websocket feed of new
// events.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	log "log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"airpiece/internal/eventlog"
)

const DefaultPollInterval = time.Second

type Store interface {
	Events(ctx context.Context, eventType string, limit int) ([]eventlog.Event, error)
	Today(ctx context.Context) ([]eventlog.Event, error)
	Since(ctx context.Context, id int64) ([]eventlog.Event, error)
}

type Options struct {
	// Captures holds archived frames, served under /captures/. Nil disables
	// the route.
	Captures     afero.Fs
	PollInterval time.Duration
	// Registerer receives the dashboard's own gauges; Metrics is mounted at
	// /metrics. Both are optional.
	Registerer prometheus.Registerer
	Metrics    http.Handler
}

type Server struct {
	store    Store
	opt      Options
	hub      *hub
	upgrader websocket.Upgrader
}

func New(store Store, opt Options) (*Server, error) {
	if opt.PollInterval <= 0 {
		opt.PollInterval = DefaultPollInterval
	}

	var onCount func(int)
	if opt.Registerer != nil {
		clients := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airpiece",
			Subsystem: "dashboard",
			Name:      "feed_clients",
			Help:      "Connected live feed clients",
		})
		if err := opt.Registerer.Register(clients); err != nil {
			return nil, err
		}
		onCount = func(n int) { clients.Set(float64(n)) }
	}

	return &Server{
		store: store,
		opt:   opt,
		hub:   newHub(onCount),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/today", s.handleToday)
	mux.HandleFunc("GET /ws", s.handleFeed)
	if s.opt.Captures != nil {
		files := http.FileServer(afero.NewHttpFs(s.opt.Captures).Dir("/"))
		mux.Handle("GET /captures/", http.StripPrefix("/captures", files))
	}
	if s.opt.Metrics != nil {
		mux.Handle("GET /metrics", s.opt.Metrics)
	}
	return mux
}

// Serve listens on addr and runs the feed poller until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go s.Poll(ctx)

	log.Info("Dashboard listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Poll pushes events logged after startup to feed clients.
func (s *Server) Poll(ctx context.Context) {
	defer s.hub.closeAll()

	var last int64
	if latest, err := s.store.Events(ctx, "", 1); err == nil && len(latest) > 0 {
		last = latest[0].ID
	}

	t := time.NewTicker(s.opt.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		events, err := s.store.Since(ctx, last)
		if err != nil {
			log.Warn("Failed to poll event log", "err", err)
			continue
		}
		for i := range events {
			s.hub.broadcast(Message{Kind: "event", Event: &events[i]})
			last = events[i].ID
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.Today(r.Context())
	if err != nil {
		log.Error("Failed to read today's events", "err", err)
		http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, indexData{Date: time.Now().UTC().Format("2006-01-02"), Events: events}); err != nil {
		log.Error("Failed to render index", "err", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := eventlog.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.store.Events(r.Context(), r.URL.Query().Get("type"), limit)
	s.writeEvents(w, events, err)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.Today(r.Context())
	s.writeEvents(w, events, err)
}

func (s *Server) writeEvents(w http.ResponseWriter, events []eventlog.Event, err error) {
	if err != nil {
		log.Error("Failed to query events", "err", err)
		http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		log.Debug("Failed to write events", "err", err)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Feed upgrade failed", "err", err)
		return
	}

	c := newClient(conn)
	c.send <- Message{Kind: "hello"}
	s.hub.add(c)
	go c.writeLoop()

	// The feed is one-way; reading only notices the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(c.id)
			return
		}
	}
}

type indexData struct {
	Date   string
	Events []eventlog.Event
}

var indexPage = template.Must(template.New("index").Funcs(template.FuncMap{
	"base": path.Base,
	"clock": func(t time.Time) string {
		return t.UTC().Format("15:04:05")
	},
	"deref": func(f *float64) float64 {
		if f == nil {
			return 0
		}
		return *f
	},
}).Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Airpiece {{.Date}}</title></head>
<body>
<h1>Airpiece events for {{.Date}}</h1>
{{if not .Events}}<p>No events logged today.</p>{{else}}
<table>
<tr><th>Time</th><th>Type</th><th>Transcript</th><th>Response</th><th>Position</th><th>Frame</th></tr>
{{range .Events}}<tr>
<td>{{clock .Timestamp}}</td>
<td>{{.Type}}</td>
<td>{{.Transcript}}</td>
<td>{{.Response}}</td>
<td>{{if .Lat}}{{printf "%.5f, %.5f" (deref .Lat) (deref .Lon)}}{{end}}</td>
<td>{{if .ImagePath}}<a href="/captures/{{base .ImagePath}}">{{base .ImagePath}}</a>{{end}}</td>
</tr>
{{end}}</table>{{end}}
</body>
</html>
`))
