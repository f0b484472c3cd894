package traceserver_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ferrovm/stackwalk-go/internal/regdisplay"
	"github.com/ferrovm/stackwalk-go/internal/traceserver"
	"github.com/ferrovm/stackwalk-go/internal/tracepb"
	"github.com/ferrovm/stackwalk-go/internal/walkimage"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// testImage records a three-frame trace through methods named by names,
// innermost last.
func testImage(t *testing.T, names ...string) *tracepb.StackImage {
	t.Helper()
	require.NotEmpty(t, names)
	b := walkimage.NewBuilder(regdisplay.AMD64())
	var top walkimage.Frame
	for i, name := range names {
		mi := b.AddMethod(name, 0x100)
		if i == 0 {
			top = b.PushManagedFrame(mi, 0, 1)
		} else {
			top = b.PushManagedFrame(mi, top.PC(0x20), 1)
		}
	}
	return b.Image(walkimage.Seed{Mode: tracepb.ModeTrace, Context: top.Context(0x10)})
}

func TestCaptureWalksImage(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	ctx := context.Background()

	resp, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: testImage(t, "main", "work", "leaf")})
	require.NoError(t, err)
	require.False(t, resp.Deduplicated)
	require.NotEmpty(t, resp.Capture.CaptureID)
	require.NotZero(t, resp.Capture.StackHash)

	var names []string
	for _, f := range resp.Capture.Frames {
		names = append(names, f.Method)
	}
	require.Equal(t, []string{"leaf", "work", "main"}, names)
}

func TestCaptureDeduplicatesByStackHash(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	ctx := context.Background()
	img := testImage(t, "main", "work")

	first, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: img})
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	second, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: img})
	require.NoError(t, err)
	require.True(t, second.Deduplicated)
	require.Equal(t, first.Capture.StackHash, second.Capture.StackHash)
	// Each submission is still its own capture in the history.
	require.NotEqual(t, first.Capture.CaptureID, second.Capture.CaptureID)
}

func TestCaptureRejectsMissingImage(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	_, err := s.Capture(context.Background(), &tracepb.CaptureRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCaptureRejectsUnwalkableImage(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	// GC mode with no transition frame cannot seed a walk.
	img := testImage(t, "main")
	img.Mode = tracepb.ModeGC
	img.Context = nil
	_, err := s.Capture(context.Background(), &tracepb.CaptureRequest{Image: img})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRecentNewestFirstWithLimit(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	ctx := context.Background()

	older, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: testImage(t, "main", "a")})
	require.NoError(t, err)
	newer, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: testImage(t, "main", "b")})
	require.NoError(t, err)

	resp, err := s.Recent(ctx, &tracepb.RecentRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Captures, 2)
	require.Equal(t, newer.Capture.CaptureID, resp.Captures[0].CaptureID)
	require.Equal(t, older.Capture.CaptureID, resp.Captures[1].CaptureID)

	resp, err = s.Recent(ctx, &tracepb.RecentRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Captures, 1)
	require.Equal(t, newer.Capture.CaptureID, resp.Captures[0].CaptureID)
}

func TestHistoryBounded(t *testing.T) {
	s := traceserver.New(testLogger(), 2)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Capture(ctx, &tracepb.CaptureRequest{Image: testImage(t, "main", name)})
		require.NoError(t, err)
	}
	resp, err := s.Recent(ctx, &tracepb.RecentRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Captures, 2)
}

func TestServeEndToEnd(t *testing.T) {
	s := traceserver.New(testLogger(), 0)
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, lis) }()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	conn, err := grpc.DialContext(dialCtx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := tracepb.NewWalkTraceClient(conn)
	resp, err := client.Capture(ctx, &tracepb.CaptureRequest{Image: testImage(t, "main", "leaf")})
	require.NoError(t, err)
	require.Len(t, resp.Capture.Frames, 2)

	recent, err := client.Recent(ctx, &tracepb.RecentRequest{})
	require.NoError(t, err)
	require.Len(t, recent.Captures, 1)

	_, err = client.Capture(ctx, &tracepb.CaptureRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	cancel()
	require.NoError(t, <-serveErr)
}
