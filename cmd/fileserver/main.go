// Command fileserver listens for connections from a fileclient and writes
// each one's incoming bytes to a file (grounded on the original ToyTCP
// project's examples/file_server.rs: listen, accept in a loop, grow a
// buffer by reading 1024 bytes at a time until the connection half-closes,
// then write the accumulated bytes out).
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Soya-Onishi/toytcp-go/iptransport"
	"github.com/Soya-Onishi/toytcp-go/tcpstack"
)

const chunkSize = 1024

func main() {
	log := logrus.New()

	cmd := &cobra.Command{
		Use:   "fileserver <addr> <port> <filepath>",
		Short: "Receive a file from a fileclient over a raw-socket TCP engine",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, args[0], args[1], args[2])
		},
	}
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Fatal("fileserver failed")
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

	listener, err := engine.Listen(addr, port)
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", addr, port, err)
	}
	log.WithField("conn", listener.String()).Info("listening")

	for {
		conn, err := engine.Accept(listener)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		log.WithField("conn", conn.String()).Info("accepted connection")

		if err := receiveToFile(log, engine, conn, filepath); err != nil {
			log.WithError(err).Error("receiveToFile failed")
		}
	}
}

func receiveToFile(log *logrus.Logger, engine *tcpstack.Engine, conn tcpstack.ConnID, filepath string) error {
	var received []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := engine.Recv(conn, buf)
		if errors.Is(err, io.EOF) {
			log.WithField("conn", conn.String()).Info("closing connection")
			if cerr := engine.Close(conn); cerr != nil {
				return cerr
			}
			break
		}
		if err != nil {
			return err
		}
		received = append(received, buf[:n]...)
	}
	return os.WriteFile(filepath, received, 0o644)
}
