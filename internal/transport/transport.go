package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/iamhyc/serde-ipc/internal/dispatch"
	"github.com/iamhyc/serde-ipc/pkg/logging"
)

const subsystem = "Transport"

// clientIDLen is the fixed width of the handshake's opening client id.
const clientIDLen = 16

// maxFrameSize bounds a single length-prefixed frame; a request or response
// larger than this is a protocol violation, not a resource exhaustion
// vector.
const maxFrameSize = 16 << 20

// Server accepts connections and feeds decoded requests to a Dispatcher.
type Server struct {
	addr string
	disp *dispatch.Dispatcher

	mu       sync.Mutex
	listener net.Listener
}

// New returns a Server that will listen on addr and dispatch through disp.
func New(addr string, disp *dispatch.Dispatcher) *Server {
	return &Server{addr: addr, disp: disp}
}

// ListenAndServe binds addr and accepts connections until the listener is
// closed (via Close) or accept fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Info(subsystem, "listening on %s", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections. In-flight connections run to
// completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()

	clientID := make([]byte, clientIDLen)
	if _, err := io.ReadFull(conn, clientID); err != nil {
		logging.Warn(subsystem, "connection %s: handshake read failed: %v", connID, err)
		return
	}
	if _, err := conn.Write(clientID); err != nil {
		logging.Warn(subsystem, "connection %s: handshake echo failed: %v", connID, err)
		return
	}

	sentinel := make([]byte, 1)
	if _, err := io.ReadFull(conn, sentinel); err != nil {
		logging.Warn(subsystem, "connection %s: handshake sentinel read failed: %v", connID, err)
		return
	}

	logging.Debug(subsystem, "connection %s: handshake complete", connID)

	reader := bufio.NewReader(conn)
	var writeMu sync.Mutex

	for {
		frame, err := readFrame(reader)
		if err != nil {
			if err != io.EOF {
				logging.Warn(subsystem, "connection %s: frame read failed: %v", connID, err)
			}
			return
		}

		var req dispatch.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			logging.Warn(subsystem, "connection %s: malformed request: %v", connID, err)
			continue
		}

		s.disp.Dispatch(req, func(resp dispatch.Response) {
			encoded, err := json.Marshal(resp)
			if err != nil {
				logging.Error(subsystem, err, "connection %s: encoding response", connID)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := writeFrame(conn, encoded); err != nil {
				logging.Warn(subsystem, "connection %s: frame write failed: %v", connID, err)
			}
		})
	}
}

// readFrame reads a 4-byte big-endian length prefix followed by that many
// bytes of payload.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, io.ErrShortBuffer
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload prefixed with its 4-byte big-endian length.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
