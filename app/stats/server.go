package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"
)

// SocketPath returns the default socket location, suffixed with the bot name
// when one is configured so multiple instances can coexist
func SocketPath(botName string) string {
	if botName == "" {
		return "/tmp/secretlounge"
	}
	return "/tmp/secretlounge_" + botName
}

// SocketServer exposes a Registry over a unix socket. Any request up to 512
// bytes gets the current snapshot as a json object, one response per
// connection.
type SocketServer struct {
	Registry *Registry
	Path     string
}

// Run listens on the socket until ctx is canceled, removing a stale socket
// file from a previous run first
func (s *SocketServer) Run(ctx context.Context) error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.Path, err)
	}
	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Path, err)
	}
	log.Printf("[INFO] stats socket on %s", s.Path)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		_ = os.Remove(s.Path)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s failed: %w", s.Path, err)
		}
		go s.serve(conn)
	}
}

func (s *SocketServer) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	if _, err := conn.Read(buf); err != nil {
		return
	}
	data, err := json.Marshal(s.Registry.Snapshot())
	if err != nil {
		log.Printf("[WARN] failed to marshal stats: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Printf("[DEBUG] failed to write stats reply: %v", err)
	}
}
