package testutil

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by the test SMTP server.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
}

// MemoryBackend keeps every accepted message in memory.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []ReceivedMessage
	// RejectRcpt, when set, makes RCPT TO fail with this error.
	RejectRcpt error
}

func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns a copy of all received messages.
func (b *MemoryBackend) Messages() []ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ReceivedMessage(nil), b.messages...)
}

type memorySession struct {
	backend *MemoryBackend
	from    string
	to      []string
}

func (s *memorySession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.RejectRcpt != nil {
		return s.backend.RejectRcpt
	}
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, ReceivedMessage{From: s.from, To: s.to, Data: data})
	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer is an in-memory SMTP server listening on a random local port.
type TestSMTPServer struct {
	Host    string
	Port    int
	Backend *MemoryBackend
	server  *smtp.Server
}

// Address returns host:port of the listener.
func (s *TestSMTPServer) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Close stops accepting connections.
func (s *TestSMTPServer) Close() error {
	return s.server.Close()
}

// StartSMTPServer starts a server outside of a test, for the E2E dev server.
// The caller must Close it.
func StartSMTPServer() (*TestSMTPServer, error) {
	be := &MemoryBackend{}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		_ = s.Serve(listener)
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &TestSMTPServer{Host: host, Port: port, Backend: be, server: s}, nil
}

// NewTestSMTPServer starts the server and stops it when the test ends.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	srv, err := StartSMTPServer()
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Logf("Failed to close SMTP server: %v", err)
		}
	})
	return srv
}
