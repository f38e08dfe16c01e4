// Package connectjson lets connect handlers exchange plain Go structs as
// JSON instead of generated protobuf messages.
package connectjson

import (
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Codec replaces connect's built-in "json" codec, which only accepts
// proto.Message values.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// WithCodec is the option every handler and client in this module is built
// with.
func WithCodec() connect.Option {
	return connect.WithCodec(Codec{})
}

// Service collects the procedures of one RPC service onto a single mux so
// it can be mounted like generated connect code.
type Service struct {
	name string
	opts []connect.HandlerOption
	mux  *http.ServeMux
}

func NewService(name string, opts ...connect.HandlerOption) *Service {
	return &Service{
		name: name,
		opts: append(append([]connect.HandlerOption(nil), opts...), WithCodec()),
		mux:  http.NewServeMux(),
	}
}

func (s *Service) Procedure(method string) string {
	return "/" + s.name + "/" + method
}

// Path is the mount point of the service.
func (s *Service) Path() string {
	return "/" + s.name + "/"
}

func (s *Service) Options() []connect.HandlerOption {
	return s.opts
}

func (s *Service) Handle(method string, h http.Handler) {
	if strings.Contains(method, "/") {
		panic("connectjson: method name must not contain '/'")
	}
	s.mux.Handle(s.Procedure(method), h)
}

// Handler returns the (path, handler) pair expected by http.ServeMux.Handle.
func (s *Service) Handler() (string, http.Handler) {
	return s.Path(), s.mux
}
