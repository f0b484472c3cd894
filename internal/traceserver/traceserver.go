// Package traceserver serves walk captures over gRPC. Crash reporters send
// recorded stack images; the server walks them, fingerprints the resulting
// stacks, and retains a bounded history for the diagnostic tooling to
// query. Identical images submitted concurrently are walked once.
package traceserver

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/minio/highwayhash"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ferrovm/stackwalk-go"
	"github.com/ferrovm/stackwalk-go/internal/capturelog"
	"github.com/ferrovm/stackwalk-go/internal/tracepb"
)

var hashKey = [32]byte{}

// DefaultHistorySize is the number of captures retained for Recent.
const DefaultHistorySize = 256

// Server implements tracepb.WalkTraceServer.
type Server struct {
	log     *log.Logger
	history *capturelog.Log[*tracepb.WalkCapture]
	g       singleflight.Group

	mu struct {
		sync.Mutex
		// seen maps stack hashes to the capture that first produced them.
		seen map[uint64]string
	}
}

var _ tracepb.WalkTraceServer = (*Server)(nil)

// New builds a server logging through l and retaining historySize
// captures. A non-positive historySize uses the default.
func New(l *log.Logger, historySize int) *Server {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	s := &Server{
		log:     l,
		history: capturelog.New[*tracepb.WalkCapture](historySize),
	}
	s.mu.seen = make(map[uint64]string)
	return s
}

// Capture implements tracepb.WalkTraceServer.
func (s *Server) Capture(ctx context.Context, req *tracepb.CaptureRequest) (*tracepb.CaptureResponse, error) {
	if req.Image == nil {
		return nil, status.Error(codes.InvalidArgument, "no image in request")
	}
	imgBytes, err := req.Image.MarshalBinary()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unserializable image: %v", err)
	}
	key := highwayhash.Sum64(imgBytes, hashKey[:])

	v, err, shared := s.g.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		c, err := stackwalk.CaptureStackImage(req.Image, stackwalk.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		pb := captureToProto(c)
		dedup := s.record(c.StackHash, pb)
		return &tracepb.CaptureResponse{Capture: pb, Deduplicated: dedup}, nil
	})
	if err != nil {
		s.log.Error("walk failed", "error", err)
		return nil, status.Errorf(codes.InvalidArgument, "walking image: %v", err)
	}
	resp := v.(*tracepb.CaptureResponse)
	if shared {
		s.log.Debug("coalesced concurrent capture", "id", resp.Capture.CaptureID)
	}
	return resp, nil
}

// record stores the capture and reports whether its stack hash was already
// known.
func (s *Server) record(stackHash uint64, pb *tracepb.WalkCapture) bool {
	s.history.Append(pb)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mu.seen[stackHash]; ok {
		return true
	}
	s.mu.seen[stackHash] = pb.CaptureID
	return false
}

// Recent implements tracepb.WalkTraceServer.
func (s *Server) Recent(ctx context.Context, req *tracepb.RecentRequest) (*tracepb.RecentResponse, error) {
	return &tracepb.RecentResponse{
		Captures: s.history.Snapshot(int(req.Limit)),
	}, nil
}

// Serve runs a gRPC server on lis until ctx is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	tracepb.RegisterWalkTraceServer(gs, s)
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	s.log.Info("serving walk traces", "addr", lis.Addr())
	return gs.Serve(lis)
}

func captureToProto(c *stackwalk.Capture) *tracepb.WalkCapture {
	pb := &tracepb.WalkCapture{
		CaptureID:  c.ID.String(),
		CapturedAt: c.CapturedAt,
		StackHash:  c.StackHash,
	}
	for _, f := range c.Frames {
		pb.Frames = append(pb.Frames, &tracepb.FrameRecord{
			ControlPC:            f.ControlPC,
			FramePointer:         f.FramePointer,
			Method:               f.Method,
			CodeOffset:           f.CodeOffset,
			ExceptionallyInvoked: f.ExceptionallyInvoked,
			ConservativeLo:       f.ConservativeLo,
			ConservativeHi:       f.ConservativeHi,
		})
	}
	return pb
}
