package main

import (
	"bufio"
	"encoding/json"
	"log"
	"net"

	"github.com/ted-ross/qpid-spf/internal/errs"
	"github.com/ted-ross/qpid-spf/internal/frame"
	"github.com/ted-ross/qpid-spf/internal/mgmt"
	"github.com/ted-ross/qpid-spf/internal/session"
	"github.com/ted-ross/qpid-spf/internal/store"
)

// handleConnection owns one TCP connection end to end: it builds a
// session bound to a connHandler writing back over conn, feeds every
// decoded wireFrame line into the session, and once the connection drops
// detaches the session and then closes it. The session's management
// object is only marked detached here; the mgmt Sweeper later expires it
// once it has stayed detached long enough.
func handleConnection(conn net.Conn, id string, st store.Store, router session.Router, agent *mgmt.Agent, logger *log.Logger) {
	defer conn.Close()

	s := session.New(id, st, router)
	defer s.Close()

	handler := newConnHandler(conn)
	s.Attach(handler)
	agent.RegisterSession(id)

	logger.Printf("connection %s: session attached", id)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wf wireFrame
		if err := json.Unmarshal(line, &wf); err != nil {
			logger.Printf("connection %s: malformed frame: %v", id, err)
			continue
		}
		f, err := decodeFrame(wf)
		if err != nil {
			logger.Printf("connection %s: %v", id, err)
			continue
		}
		if err := s.HandleIn(f); err != nil {
			logger.Printf("connection %s: command failed: %v", id, err)
			// A protocol-invariant violation (InternalError) fails the
			// session outright: tell the peer why and stop reading.
			// Anything else (e.g. NotImplementedError) only fails the one
			// command, so the connection keeps going.
			if code, ok := errs.CodeOf(err); ok && code == errs.InternalError {
				handler.OutException(frame.SessionException{Code: code, Message: err.Error()})
				break
			}
		}
	}

	s.Detach()
	agent.DetachSession(id)
	logger.Printf("connection %s: closed, session detached", id)
}
