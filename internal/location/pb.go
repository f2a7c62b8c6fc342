package location

import "google.golang.org/grpc"

// DriverUpdate is one streamed driver position report.
type DriverUpdate struct {
	DriverId  string
	Lat       float64
	Lng       float64
	Available bool
	Ts        int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// IngestServer defines the gRPC contract for the location ingest stream.
type IngestServer interface {
	StreamUpdates(Ingest_StreamUpdatesServer) error
}

// RegisterIngestServer registers the service implementation.
func RegisterIngestServer(s *grpc.Server, srv IngestServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "dispatch.LocationIngest",
		HandlerType: (*IngestServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamUpdates",
			Handler:       _Ingest_StreamUpdates_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Ingest_StreamUpdatesServer is the server side of the bidi stream.
type Ingest_StreamUpdatesServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DriverUpdate, error)
}

func _Ingest_StreamUpdates_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(IngestServer).StreamUpdates(&ingestStreamServer{ServerStream: stream})
}

type ingestStreamServer struct {
	grpc.ServerStream
}

func (s *ingestStreamServer) SendAndClose(*Ack) error { return nil }

func (s *ingestStreamServer) Recv() (*DriverUpdate, error) {
	msg := new(DriverUpdate)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
