package protocol

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	v1HeaderLength = 16
	v1MaxRecords   = 24
)

// LayerTypeNetFlowV1 is the gopacket layer type of a NetFlow v1 export.
var LayerTypeNetFlowV1 = gopacket.RegisterLayerType(2056, gopacket.LayerTypeMetadata{
	Name:    "NetFlowV1",
	Decoder: gopacket.DecodeFunc(decodeNetFlowV1),
})

// NetFlowV1 is a decoded NetFlow v1 export datagram.
type NetFlowV1 struct {
	layers.BaseLayer
	Version   uint16
	Count     uint16
	SysUptime uint32
	UnixSecs  uint32
	UnixNsecs uint32
	Records   []FlowEntry
}

func (n *NetFlowV1) LayerType() gopacket.LayerType { return LayerTypeNetFlowV1 }

func (n *NetFlowV1) CanDecode() gopacket.LayerClass { return LayerTypeNetFlowV1 }

func (n *NetFlowV1) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func (n *NetFlowV1) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < v1HeaderLength {
		return truncated(1, "header needs %d bytes, have %d", v1HeaderLength, len(data))
	}
	n.Version = binary.BigEndian.Uint16(data[0:2])
	if n.Version != 1 {
		return malformed(1, "version field is %d", n.Version)
	}
	n.Count = binary.BigEndian.Uint16(data[2:4])
	n.SysUptime = binary.BigEndian.Uint32(data[4:8])
	n.UnixSecs = binary.BigEndian.Uint32(data[8:12])
	n.UnixNsecs = binary.BigEndian.Uint32(data[12:16])

	if n.Count > v1MaxRecords {
		return malformed(1, "count %d exceeds %d", n.Count, v1MaxRecords)
	}
	if n.UnixNsecs >= 1e9 {
		return malformed(1, "export nanoseconds %d out of range", n.UnixNsecs)
	}
	end := v1HeaderLength + int(n.Count)*recordLength
	if len(data) < end {
		return truncated(1, "%d records need %d bytes, have %d", n.Count, end, len(data))
	}

	n.Records = n.Records[:0]
	for off := v1HeaderLength; off < end; off += recordLength {
		b := data[off : off+recordLength]
		var f FlowEntry
		f.decodeCommon(b)
		f.Protocol = b[38]
		f.ToS = b[39]
		f.TCPFlags = b[40]
		n.Records = append(n.Records, f)
	}

	n.BaseLayer = layers.BaseLayer{Contents: data[:end]}
	return nil
}

func (n *NetFlowV1) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if opts.FixLengths {
		n.Version = 1
		n.Count = uint16(len(n.Records))
	}
	bytes, err := b.PrependBytes(v1HeaderLength + len(n.Records)*recordLength)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(bytes[0:2], n.Version)
	binary.BigEndian.PutUint16(bytes[2:4], n.Count)
	binary.BigEndian.PutUint32(bytes[4:8], n.SysUptime)
	binary.BigEndian.PutUint32(bytes[8:12], n.UnixSecs)
	binary.BigEndian.PutUint32(bytes[12:16], n.UnixNsecs)

	for i := range n.Records {
		r := bytes[v1HeaderLength+i*recordLength : v1HeaderLength+(i+1)*recordLength]
		f := &n.Records[i]
		f.encodeCommon(r)
		for j := 36; j < recordLength; j++ {
			r[j] = 0
		}
		r[38] = f.Protocol
		r[39] = f.ToS
		r[40] = f.TCPFlags
	}
	return nil
}

func decodeNetFlowV1(data []byte, p gopacket.PacketBuilder) error {
	n := &NetFlowV1{}
	if err := n.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(n)
	return nil
}
