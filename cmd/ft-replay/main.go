package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/tymiles003/FlowTrack/internal/engine/protocol"
	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/pkg/pcap"
)

// sysUptime is the exporter uptime written into synthesized headers, in ms.
const sysUptime = 3600000

func main() {
	target := flag.String("target", "127.0.0.1:2055", "Collector address to send datagrams to.")
	pcapPath := flag.String("pcap", "", "Replay export datagrams from this pcap file.")
	port := flag.Uint("port", 2055, "Only replay datagrams sent to this UDP port (0 for any).")
	pps := flag.Float64("pps", 0, "Datagrams per second (0 for unlimited).")

	src := flag.String("src", "192.168.1.10", "Synthesized flow source address.")
	dst := flag.String("dst", "8.8.8.8", "Synthesized flow destination address.")
	srcPort := flag.Uint("sport", 51000, "Synthesized flow source port.")
	dstPort := flag.Uint("dport", 443, "Synthesized flow destination port.")
	proto := flag.Uint("proto", 6, "Synthesized flow IP protocol number.")
	bytes := flag.Uint64("bytes", 600, "Synthesized flow byte count.")
	packets := flag.Uint64("packets", 4, "Synthesized flow packet count.")
	count := flag.Int("count", 1, "Number of synthesized datagrams to send.")
	flag.Parse()

	logger, err := logging.New(os.Getenv("LOG_LEVEL"), "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		logger.Fatalw("Invalid target address", "target", *target, "error", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		logger.Fatalw("Failed to dial collector", "target", *target, "error", err)
	}
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if *pps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*pps), 1)
	}
	send := func(payload []byte) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := conn.Write(payload)
		return err
	}

	if *pcapPath != "" {
		reader, err := pcap.NewReader(*pcapPath)
		if err != nil {
			logger.Fatalw("Failed to open pcap file", "path", *pcapPath, "error", err)
		}
		defer reader.Close()

		sent, err := reader.ReadDatagrams(uint16(*port), func(d pcap.Datagram) error {
			return send(d.Payload)
		})
		if err != nil {
			logger.Errorw("Replay stopped early", "sent", sent, "error", err)
			return
		}
		logger.Infow("Replay complete", "path", *pcapPath, "datagrams", sent, "target", *target)
		return
	}

	srcIP, err := ipaddr.ToInteger(*src)
	if err != nil {
		logger.Fatalw("Invalid source address", "error", err)
	}
	dstIP, err := ipaddr.ToInteger(*dst)
	if err != nil {
		logger.Fatalw("Invalid destination address", "error", err)
	}

	for i := 0; i < *count; i++ {
		now := time.Now()
		payload, err := protocol.Serialize([]model.FlowRecord{{
			SrcIP:      srcIP,
			DstIP:      dstIP,
			SrcPort:    uint16(*srcPort),
			DstPort:    uint16(*dstPort),
			Protocol:   uint8(*proto),
			Bytes:      *bytes,
			Packets:    *packets,
			ObservedAt: now,
		}}, now, sysUptime)
		if err != nil {
			logger.Fatalw("Failed to build datagram", "error", err)
		}
		if err := send(payload); err != nil {
			logger.Errorw("Send failed", "sent", i, "error", err)
			return
		}
	}
	logger.Infow("Synthesized flows sent", "count", *count, "src", *src, "dst", *dst, "bytes", *bytes, "target", *target)
}
