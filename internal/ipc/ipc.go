// Package ipc is the local control channel between airpiece-ctl and the
// daemon: one JSON request and one JSON response per connection over a unix
// socket.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/airpiece.sock"

const ioTimeout = 30 * time.Second

type Request struct {
	Cmd string `json:"cmd"`
}

type Response struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler answers one request. It may block until the daemon acted on it.
type Handler func(ctx context.Context, req Request) Response

// Serve listens on path until ctx is cancelled. A stale socket file from a
// previous run is replaced.
func Serve(ctx context.Context, path string, handler Handler) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	log.Info("Control socket listening", "path", path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				os.Remove(path)
				return nil
			}
			log.Warn("Control socket accept failed", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConn(ctx, conn, handler)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debug("Bad control request", "err", err)
		json.NewEncoder(conn).Encode(Response{Error: "malformed request"})
		return
	}

	resp := handler(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("Failed to write control response", "err", err)
	}
}

// Send delivers one command and waits for the daemon's answer.
func Send(path string, req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("ipc: send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}
