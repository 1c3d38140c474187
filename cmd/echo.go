//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"evbridge"
)

const (
	fileLimit  = 1 << 16
	bufferSize = 32 * 1024
)

var (
	configPath string
	listenAddr string
	threads    int
)

var rootCmd = &cobra.Command{
	Use:          "echo",
	Short:        "Echo server running one reactor loop per thread",
	Long:         `Accepts TCP connections on the configured vhosts and writes back whatever they send.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (.toml or .yaml)")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:7000", "listening address when no configuration file is given")
	rootCmd.Flags().IntVarP(&threads, "threads", "t", 0, "number of loop threads, GOMAXPROCS when 0")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*evbridge.Config, error) {
	if configPath != "" {
		config, err := evbridge.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if threads > 0 {
			config.Threads = threads
			if err := config.Validate(); err != nil {
				return nil, err
			}
		}
		return config, nil
	}
	n := threads
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	return &evbridge.Config{
		Global:  evbridge.Global{LogLevel: "info"},
		Threads: n,
		Reactor: evbridge.ReactorConfig{Enabled: true, Signals: true, LockOsThread: true},
		VHosts:  []evbridge.VHostConfig{{Name: "default", Net: "tcp", Address: listenAddr}},
	}, nil
}

func initLog(config *evbridge.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if config.Global.LogLevel != "" {
		parsed, err := zerolog.ParseLevel(config.Global.LogLevel)
		if err != nil {
			log.Warn().Msgf("unknown log level %q, using info", config.Global.LogLevel)
		} else {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

func run(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	initLog(config)
	if limit, err := evbridge.RaiseFileLimit(fileLimit); err != nil {
		log.Warn().Msgf("open files limit stays at %d", limit)
	} else {
		log.Info().Msgf("open files limit: %d", limit)
	}

	server := newEchoServer(config.Threads)
	bridge, err := evbridge.NewContext(config, server)
	if err != nil {
		return fmt.Errorf("can't create context: %w", err)
	}
	defer bridge.Destroy()
	server.bridge = bridge

	for tsi := 0; tsi < config.Threads; tsi++ {
		if err := bridge.InitLoop(tsi, nil); err != nil {
			return err
		}
	}
	log.Info().Msgf("starting echo server with %d threads...", config.Threads)

	g, gctx := errgroup.WithContext(context.Background())
	for tsi := 0; tsi < config.Threads; tsi++ {
		tsi := tsi
		g.Go(func() error {
			return bridge.Run(tsi)
		})
	}
	// a failing loop stops the others; on interrupt every native loop stops through its own watcher
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-gctx.Done()
		for tsi := 0; tsi < config.Threads; tsi++ {
			bridge.RequestStop(tsi)
		}
	}()
	err = g.Wait()
	<-stopped
	for tsi := 0; tsi < config.Threads; tsi++ {
		log.Info().Msgf("thread %d: %+v", tsi, bridge.Stats(tsi))
	}
	server.closeAll()
	return err
}

type echoConn struct {
	pending []byte
}

// echoServer is the protocol layer: it accepts, reads and writes back on the loop goroutines.
type echoServer struct {
	bridge  *evbridge.Context
	buffers [][]byte
	conns   []map[*evbridge.Conn]struct{}
}

func newEchoServer(threads int) *echoServer {
	s := &echoServer{
		buffers: make([][]byte, threads),
		conns:   make([]map[*evbridge.Conn]struct{}, threads),
	}
	for i := range s.buffers {
		s.buffers[i] = make([]byte, bufferSize)
		s.conns[i] = make(map[*evbridge.Conn]struct{})
	}
	return s
}

func (s *echoServer) ServiceFD(c *evbridge.Conn, fd int, flags evbridge.Flags) {
	if c.IsListener() {
		s.accept(c, fd)
		return
	}
	ec := c.Data.(*echoConn)
	if flags&evbridge.Writable != 0 && !s.flush(c, fd, ec) {
		return
	}
	if flags&evbridge.Readable != 0 && len(ec.pending) == 0 {
		s.echo(c, fd, ec)
	}
}

func (s *echoServer) accept(lc *evbridge.Conn, fd int) {
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN {
				log.Error().Msgf("[%d] got error while accepting: %+v", fd, err)
			}
			return
		}
		evbridge.ConfigureSocket(nfd, bufferSize)
		c := evbridge.NewConn(lc.Thread())
		c.Data = &echoConn{}
		if err := s.bridge.Accept(c, nfd); err != nil {
			log.Error().Msgf("[%d] can't attach connection: %+v", nfd, err)
			_ = unix.Close(nfd)
			continue
		}
		s.conns[c.Thread()][c] = struct{}{}
		s.bridge.SetInterest(c, evbridge.EvStart|evbridge.EvRead)
	}
}

func (s *echoServer) echo(c *evbridge.Conn, fd int, ec *echoConn) {
	buf := s.buffers[c.Thread()]
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN {
			return
		}
		if err != nil || n == 0 {
			s.close(c, fd)
			return
		}
		w, err := unix.Write(fd, buf[:n])
		if err == unix.EAGAIN {
			w = 0
		} else if err != nil {
			s.close(c, fd)
			return
		}
		if w < n {
			// peer is slow: park the rest and wait for the socket to drain
			ec.pending = append(ec.pending[:0], buf[w:n]...)
			s.bridge.SetInterest(c, evbridge.EvStop|evbridge.EvRead)
			s.bridge.SetInterest(c, evbridge.EvStart|evbridge.EvWrite)
			return
		}
	}
}

// flush reports whether the connection is still open.
func (s *echoServer) flush(c *evbridge.Conn, fd int, ec *echoConn) bool {
	for len(ec.pending) > 0 {
		w, err := unix.Write(fd, ec.pending)
		if err == unix.EAGAIN {
			return true
		}
		if err != nil {
			s.close(c, fd)
			return false
		}
		ec.pending = ec.pending[w:]
	}
	s.bridge.SetInterest(c, evbridge.EvStop|evbridge.EvWrite)
	s.bridge.SetInterest(c, evbridge.EvStart|evbridge.EvRead)
	return true
}

func (s *echoServer) close(c *evbridge.Conn, fd int) {
	s.bridge.Release(c)
	delete(s.conns[c.Thread()], c)
	if err := unix.Close(fd); err != nil {
		log.Error().Msgf("[%d] got error while closing connection: %+v", fd, err)
	}
}

// closeAll runs once every loop has returned.
func (s *echoServer) closeAll() {
	for _, conns := range s.conns {
		for c := range conns {
			s.close(c, c.Fd())
		}
	}
}
