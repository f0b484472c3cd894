// Command walkdump is the operator tool for recorded stack images: it
// walks image files and prints the frames, runs the walk-trace service,
// and generates sample images for smoke-testing a deployment.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/ferrovm/stackwalk-go"
	"github.com/ferrovm/stackwalk-go/internal/logger"
	"github.com/ferrovm/stackwalk-go/internal/traceserver"
)

var (
	flagDebug   bool
	flagNoColor bool
)

var rootCmd = &cobra.Command{
	Use:   "walkdump",
	Short: "Inspect and serve recorded stack images",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(flagDebug, flagNoColor)
	},
	SilenceUsage: true,
}

var walkCmd = &cobra.Command{
	Use:   "walk <image>...",
	Short: "Walk image files and print their frames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		images := make([][]byte, len(args))
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			images[i] = data
		}
		captures, err := stackwalk.CaptureAll(cmd.Context(), images)
		if err != nil {
			return err
		}
		for i, c := range captures {
			printCapture(args[i], c)
		}
		return nil
	},
}

var serveAddr string

// The --addr flag default can be set through WALKDUMP_ADDR.
func defaultServeAddr() string {
	if addr := os.Getenv("WALKDUMP_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:7423"
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the walk-trace gRPC service",
	RunE: func(cmd *cobra.Command, args []string) error {
		lis, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return err
		}
		srv := traceserver.New(log.Default(), traceserver.DefaultHistorySize)
		return srv.Serve(cmd.Context(), lis)
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo <out>",
	Short: "Write a sample stack image for smoke testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := demoImage()
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], img, 0o644); err != nil {
			return err
		}
		log.Info("wrote demo image", "path", args[0], "bytes", len(img))
		return nil
	},
}

func profile() termenv.Profile {
	if flagNoColor {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

func printCapture(path string, c *stackwalk.Capture) {
	p := profile()
	head := termenv.String(path).Foreground(p.Color("6")).Bold()
	fmt.Printf("%s  id=%s  hash=%016x  frames=%d\n", head, c.ID, c.StackHash, len(c.Frames))
	for i, f := range c.Frames {
		method := termenv.String(f.Method).Foreground(p.Color("2"))
		fmt.Printf("  #%-3d %#014x  %s+%#x", i, f.ControlPC, method, f.CodeOffset)
		if f.ExceptionallyInvoked {
			fmt.Printf("  %s", termenv.String("[exceptional]").Foreground(p.Color("1")))
		}
		if f.ConservativeLo != 0 {
			fmt.Printf("  conservative=[%#x,%#x)", f.ConservativeLo, f.ConservativeHi)
		}
		fmt.Println()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&flagNoColor, "no-color", "n", false, "disable colored output")
	serveCmd.Flags().StringVar(&serveAddr, "addr", defaultServeAddr(), "listen address")
	rootCmd.AddCommand(walkCmd, serveCmd, demoCmd)
}
