// Package persistent records received export datagrams to a pcap file so a
// capture can later be replayed against a collector.
package persistent

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tymiles003/FlowTrack/internal/logging"
)

const snapLen = 65535

// Datagram is one received export datagram.
type Datagram struct {
	Source     *net.UDPAddr
	ReceivedAt time.Time
	Payload    []byte
}

// Recorder writes datagrams as Ethernet/IPv4/UDP frames on a single goroutine.
type Recorder struct {
	ch      chan Datagram
	wg      sync.WaitGroup
	file    *os.File
	writer  *pcapgo.Writer
	dstIP   net.IP
	dstPort layers.UDPPort
	log     *logging.Logger
}

// NewRecorder creates a timestamped pcap file under dir and starts the writer.
// dstPort is the collector port written as the UDP destination.
func NewRecorder(dir string, dstPort int, bufferSize int, log *logging.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".pcap")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	r := &Recorder{
		ch:      make(chan Datagram, bufferSize),
		file:    file,
		writer:  w,
		dstIP:   net.IPv4(127, 0, 0, 1).To4(),
		dstPort: layers.UDPPort(dstPort),
		log:     log,
	}
	r.wg.Add(1)
	go r.run()
	log.Infow("Recording export datagrams", "path", path)
	return r, nil
}

// Path is the capture file being written.
func (r *Recorder) Path() string { return r.file.Name() }

// Enqueue hands a datagram to the writer. It never blocks; when the buffer is
// full the datagram is not recorded.
func (r *Recorder) Enqueue(d Datagram) bool {
	select {
	case r.ch <- d:
		return true
	default:
		return false
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	buf := gopacket.NewSerializeBuffer()
	for d := range r.ch {
		frame, err := r.frame(buf, d)
		if err != nil {
			r.log.Warnw("Cannot frame datagram for capture", "source", d.Source, "error", err)
			continue
		}
		ci := gopacket.CaptureInfo{Timestamp: d.ReceivedAt, CaptureLength: len(frame), Length: len(frame)}
		if err := r.writer.WritePacket(ci, frame); err != nil {
			r.log.Warnw("Error writing capture packet", "error", err)
		}
	}
}

func (r *Recorder) frame(buf gopacket.SerializeBuffer, d Datagram) ([]byte, error) {
	src := net.IPv4zero.To4()
	srcPort := 0
	if d.Source != nil {
		if v4 := d.Source.IP.To4(); v4 != nil {
			src = v4
		}
		srcPort = d.Source.Port
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: r.dstIP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: r.dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stop flushes pending datagrams and closes the file.
func (r *Recorder) Stop() {
	close(r.ch)
	r.wg.Wait()
	if err := r.file.Close(); err != nil {
		r.log.Warnw("Error closing capture file", "error", err)
	}
	r.log.Info("Datagram recorder stopped and file closed.")
}
