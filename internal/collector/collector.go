// Package collector listens for flow-export datagrams on UDP and feeds the
// decoded records to the ingest workers.
package collector

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tymiles003/FlowTrack/internal/engine/protocol"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/metrics"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/probe/persistent"
)

const maxDatagram = 65535

// Sink accepts decoded records without blocking.
type Sink interface {
	Enqueue(r model.FlowRecord) bool
}

// Collector owns the UDP socket of the ingestion port. It never answers.
type Collector struct {
	conn     *net.UDPConn
	sink     Sink
	recorder *persistent.Recorder
	log      *logging.Logger
	warn     *rate.Limiter
	now      func() time.Time

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Option customizes a Collector.
type Option func(*Collector)

// WithRecorder copies every received datagram to a pcap capture.
func WithRecorder(r *persistent.Recorder) Option {
	return func(c *Collector) { c.recorder = r }
}

// WithWarnRate sets how many decode warnings per second are logged.
func WithWarnRate(perSecond float64, burst int) Option {
	return func(c *Collector) { c.warn = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New binds addr. readBuffer sets the socket receive buffer when positive.
func New(addr string, readBuffer int, sink Sink, log *logging.Logger, opts ...Option) (*Collector, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			log.Warnw("Cannot set UDP read buffer", "size", readBuffer, "error", err)
		}
	}

	c := &Collector{
		conn: conn,
		sink: sink,
		log:  log,
		warn: rate.NewLimiter(rate.Every(time.Second), 5),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Addr is the bound local address.
func (c *Collector) Addr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Start runs the read loop on its own goroutine.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.readLoop()
	c.log.Infow("Collector listening", "addr", c.conn.LocalAddr().String())
}

func (c *Collector) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warnw("UDP read failed", "error", err)
			continue
		}
		c.handle(buf[:n], src)
	}
}

func (c *Collector) handle(payload []byte, src *net.UDPAddr) {
	receivedAt := c.now()
	if c.recorder != nil {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		if !c.recorder.Enqueue(persistent.Datagram{Source: src, ReceivedAt: receivedAt, Payload: cp}) {
			metrics.DatagramsTotal.WithLabelValues("unrecorded").Inc()
		}
	}

	records, err := protocol.Decode(payload, receivedAt)
	if err != nil {
		metrics.DatagramsTotal.WithLabelValues("invalid").Inc()
		if c.warn.Allow() {
			c.log.Warnw("Discarding export datagram", "source", src.String(), "size", len(payload), "error", err)
		}
		return
	}
	metrics.DatagramsTotal.WithLabelValues("decoded").Inc()

	for _, r := range records {
		c.sink.Enqueue(r)
	}
}

// Stop closes the socket and waits for the read loop to exit.
func (c *Collector) Stop() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.Warnw("Error closing UDP socket", "error", err)
	}
	c.wg.Wait()
	c.log.Info("Collector stopped.")
}
