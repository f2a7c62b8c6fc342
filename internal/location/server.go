package location

import (
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

// Server ingests driver position streams and writes them into the sink the
// matcher reads from.
type Server struct {
	sink   domain.LocationSink
	logger *zap.Logger
}

// NewServer constructs an ingest server.
func NewServer(sink domain.LocationSink, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{sink: sink, logger: logger}
}

// StreamUpdates consumes driver updates until the client closes the stream.
// Malformed driver ids are skipped rather than failing the whole stream.
func (s *Server) StreamUpdates(stream Ingest_StreamUpdatesServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		driverID, err := uuid.Parse(msg.DriverId)
		if err != nil {
			s.logger.Warn("skipping update with bad driver id", zap.String("driver_id", msg.DriverId))
			continue
		}
		ctx := stream.Context()
		if err := s.sink.UpdateLocation(ctx, driverID, domain.GeoPoint{Lat: msg.Lat, Lng: msg.Lng}); err != nil {
			s.logger.Warn("location update failed", zap.Error(err), zap.String("driver_id", msg.DriverId))
			continue
		}
		if err := s.sink.SetAvailability(ctx, driverID, msg.Available); err != nil {
			s.logger.Warn("availability update failed", zap.Error(err), zap.String("driver_id", msg.DriverId))
		}
	}
}
