// Package pcap reads captured NetFlow export traffic back out of pcap files.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Datagram is the UDP payload of one captured packet.
type Datagram struct {
	Timestamp time.Time
	Source    *net.UDPAddr
	DstPort   uint16
	Payload   []byte
}

// Reader reads UDP datagrams from a pcap file.
type Reader struct {
	file *os.File
	r    *pcapgo.Reader
}

// NewReader opens the pcap file at filePath.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("not a pcap file: %w", err)
	}
	return &Reader{file: f, r: r}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadDatagrams calls fn for every UDP packet addressed to port, or to any
// port when port is 0. Packets that are not IPv4/UDP are skipped. It stops at
// the end of the file or at the first error returned by fn.
func (r *Reader) ReadDatagrams(port uint16, fn func(Datagram) error) (int, error) {
	count := 0
	for {
		data, ci, err := r.r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		packet := gopacket.NewPacket(data, r.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		ipLayer, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		udpLayer, _ := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if ipLayer == nil || udpLayer == nil {
			continue
		}
		if port != 0 && uint16(udpLayer.DstPort) != port {
			continue
		}

		d := Datagram{
			Timestamp: ci.Timestamp,
			Source:    &net.UDPAddr{IP: ipLayer.SrcIP, Port: int(udpLayer.SrcPort)},
			DstPort:   uint16(udpLayer.DstPort),
			Payload:   append([]byte(nil), udpLayer.Payload...),
		}
		if err := fn(d); err != nil {
			return count, err
		}
		count++
	}
}
