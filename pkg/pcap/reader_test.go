package pcap

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/probe/persistent"
)

func record(t *testing.T, dir string, datagrams ...persistent.Datagram) string {
	t.Helper()
	rec, err := persistent.NewRecorder(dir, 2055, 16, logging.Nop())
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	for _, d := range datagrams {
		if !rec.Enqueue(d) {
			t.Fatal("recorder buffer unexpectedly full")
		}
	}
	rec.Stop()
	return rec.Path()
}

func TestReader_ReadDatagrams(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9999}
	at := time.Unix(1700000000, 0)
	path := record(t, t.TempDir(),
		persistent.Datagram{Source: src, ReceivedAt: at, Payload: []byte{0, 5, 0, 0}},
		persistent.Datagram{Source: src, ReceivedAt: at.Add(time.Second), Payload: []byte("second")},
	)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	var got []Datagram
	n, err := reader.ReadDatagrams(2055, func(d Datagram) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(got) != 2 {
		t.Fatalf("expected 2 datagrams, got %d", n)
	}
	if string(got[1].Payload) != "second" {
		t.Errorf("unexpected payload %q", got[1].Payload)
	}
	if !got[0].Source.IP.Equal(src.IP) || got[0].Source.Port != 9999 || got[0].DstPort != 2055 {
		t.Errorf("unexpected addressing %+v", got[0])
	}
	if !got[1].Timestamp.Equal(at.Add(time.Second)) {
		t.Errorf("unexpected timestamp %v", got[1].Timestamp)
	}
}

func TestReader_PortFilter(t *testing.T) {
	path := record(t, t.TempDir(), persistent.Datagram{ReceivedAt: time.Now(), Payload: []byte("x")})
	reader, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	n, err := reader.ReadDatagrams(9996, func(Datagram) error { return nil })
	if err != nil || n != 0 {
		t.Errorf("expected no datagrams for another port, got %d (%v)", n, err)
	}
}

func TestNewReader_NotPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	os.WriteFile(path, []byte("definitely not a capture"), 0644)
	if _, err := NewReader(path); err == nil {
		t.Error("expected error for a non-pcap file")
	}
}
