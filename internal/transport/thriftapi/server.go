package thriftapi

import (
	"github.com/apache/thrift/lib/go/thrift"

	"agrosentry/internal/auth"
	"agrosentry/internal/fleet"
)

type Server struct {
	server *thrift.TSimpleServer
}

func NewServer(addr string, engine *fleet.Engine, authenticator *auth.Authenticator) (*Server, error) {
	transport, err := thrift.NewTServerSocket(addr)
	if err != nil {
		return nil, err
	}
	processor := NewProcessor(engine, authenticator)
	transportFactory := thrift.NewTFramedTransportFactoryConf(thrift.NewTTransportFactory(), &thrift.TConfiguration{})
	protocolFactory := thrift.NewTBinaryProtocolFactoryConf(&thrift.TConfiguration{})
	server := thrift.NewTSimpleServer4(processor, transport, transportFactory, protocolFactory)
	return &Server{server: server}, nil
}

func (s *Server) Serve() error {
	return s.server.Serve()
}

func (s *Server) Stop() error {
	return s.server.Stop()
}
