package pipeline

import (
	"fmt"

	"github.com/vyrodovalexey/authgate/internal/router"
)

// ContentHandler produces the response for a location.
type ContentHandler interface {
	Content(r *Request) error
}

// ContentHandlerFunc adapts a function to ContentHandler.
type ContentHandlerFunc func(r *Request) error

// Content calls f(r).
func (f ContentHandlerFunc) Content(r *Request) error {
	return f(r)
}

// Location is a configured location of a server. Module configuration is
// attached with SetConf during snapshot construction and only read
// afterwards.
type Location struct {
	Name     string
	Pattern  string
	Match    router.MatchKind
	Internal bool
	Content  ContentHandler

	conf map[any]any
}

// SetConf attaches module configuration under key.
func (l *Location) SetConf(key, value any) {
	if l.conf == nil {
		l.conf = make(map[any]any)
	}
	l.conf[key] = value
}

// Conf returns the module configuration stored under key, or nil.
func (l *Location) Conf(key any) any {
	if l == nil || l.conf == nil {
		return nil
	}
	return l.conf[key]
}

// Server groups the locations reachable through one listener.
type Server struct {
	Name string

	locations *router.Table[*Location]
}

// NewServer creates a server without locations.
func NewServer(name string) *Server {
	return &Server{
		Name:      name,
		locations: router.NewTable[*Location](),
	}
}

// AddLocation registers loc under its pattern.
func (s *Server) AddLocation(loc *Location) error {
	if err := s.locations.Add(loc.Pattern, loc.Match, loc); err != nil {
		return fmt.Errorf("server %s: location %s: %w", s.Name, loc.Name, err)
	}
	return nil
}

// Match returns the location serving path.
func (s *Server) Match(path string) (*Location, bool) {
	return s.locations.Match(path)
}

// Snapshot is an immutable set of servers. The engine swaps snapshots
// atomically on reload; requests keep the snapshot they started with.
type Snapshot struct {
	servers map[string]*Server
}

// NewSnapshot builds a snapshot from servers.
func NewSnapshot(servers ...*Server) *Snapshot {
	s := &Snapshot{servers: make(map[string]*Server, len(servers))}
	for _, srv := range servers {
		s.servers[srv.Name] = srv
	}
	return s
}

// Server returns the server with the given name.
func (s *Snapshot) Server(name string) (*Server, bool) {
	if s == nil {
		return nil, false
	}
	srv, ok := s.servers[name]
	return srv, ok
}
