// Command fileclient connects to a fileserver and streams a file to it
// over this module's user-space TCP engine (grounded on the original
// ToyTCP project's examples/file_client.rs: connect, chunk the file into
// 1024-byte writes, close, with a Ctrl-C handler that closes the
// connection before the process exits).
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Soya-Onishi/toytcp-go/iptransport"
	"github.com/Soya-Onishi/toytcp-go/tcpstack"
)

const chunkSize = 1024

func main() {
	log := logrus.New()

	cmd := &cobra.Command{
		Use:   "fileclient <addr> <port> <filepath>",
		Short: "Send a file to a fileserver over a raw-socket TCP engine",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, args[0], args[1], args[2])
		},
	}
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Fatal("fileclient failed")
	}
}

func run(log *logrus.Logger, addrArg, portArg, filepath string) error {
	addr := net.ParseIP(addrArg)
	if addr == nil {
		return fmt.Errorf("invalid address %q", addrArg)
	}
	var port uint16
	if _, err := fmt.Sscanf(portArg, "%d", &port); err != nil {
		return fmt.Errorf("invalid port %q: %w", portArg, err)
	}

	transport, err := iptransport.NewRawIPv4()
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	engine := tcpstack.New(transport, tcpstack.WithLogger(log))
	defer engine.Shutdown()

	id, err := engine.Connect(addr, port)
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", addr, port, err)
	}
	log.WithField("conn", id.String()).Info("connected")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Warn("interrupted, closing connection")
		engine.Close(id)
		os.Exit(0)
	}()

	input, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath, err)
	}

	for off := 0; off < len(input); off += chunkSize {
		end := off + chunkSize
		if end > len(input) {
			end = len(input)
		}
		if _, err := engine.Send(id, input[off:end]); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	if err := engine.Close(id); err != nil && err != io.EOF {
		return fmt.Errorf("close: %w", err)
	}
	log.Info("file sent")
	return nil
}
