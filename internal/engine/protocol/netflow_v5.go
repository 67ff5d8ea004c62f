package protocol

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	v5HeaderLength = 24
	v5MaxRecords   = 30
)

// LayerTypeNetFlowV5 is the gopacket layer type of a NetFlow v5 export.
var LayerTypeNetFlowV5 = gopacket.RegisterLayerType(2055, gopacket.LayerTypeMetadata{
	Name:    "NetFlowV5",
	Decoder: gopacket.DecodeFunc(decodeNetFlowV5),
})

// NetFlowV5 is a decoded NetFlow v5 export datagram.
type NetFlowV5 struct {
	layers.BaseLayer
	Version          uint16
	Count            uint16
	SysUptime        uint32
	UnixSecs         uint32
	UnixNsecs        uint32
	FlowSequence     uint32
	EngineType       uint8
	EngineID         uint8
	SamplingInterval uint16
	Records          []FlowEntry
}

func (n *NetFlowV5) LayerType() gopacket.LayerType { return LayerTypeNetFlowV5 }

func (n *NetFlowV5) CanDecode() gopacket.LayerClass { return LayerTypeNetFlowV5 }

func (n *NetFlowV5) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes validates the header and reads exactly Count entries.
// Bytes past the last declared entry are ignored.
func (n *NetFlowV5) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < v5HeaderLength {
		return truncated(5, "header needs %d bytes, have %d", v5HeaderLength, len(data))
	}
	n.Version = binary.BigEndian.Uint16(data[0:2])
	if n.Version != 5 {
		return malformed(5, "version field is %d", n.Version)
	}
	n.Count = binary.BigEndian.Uint16(data[2:4])
	n.SysUptime = binary.BigEndian.Uint32(data[4:8])
	n.UnixSecs = binary.BigEndian.Uint32(data[8:12])
	n.UnixNsecs = binary.BigEndian.Uint32(data[12:16])
	n.FlowSequence = binary.BigEndian.Uint32(data[16:20])
	n.EngineType = data[20]
	n.EngineID = data[21]
	n.SamplingInterval = binary.BigEndian.Uint16(data[22:24])

	if n.Count > v5MaxRecords {
		return malformed(5, "count %d exceeds %d", n.Count, v5MaxRecords)
	}
	if n.UnixNsecs >= 1e9 {
		return malformed(5, "export nanoseconds %d out of range", n.UnixNsecs)
	}
	end := v5HeaderLength + int(n.Count)*recordLength
	if len(data) < end {
		return truncated(5, "%d records need %d bytes, have %d", n.Count, end, len(data))
	}

	n.Records = n.Records[:0]
	for off := v5HeaderLength; off < end; off += recordLength {
		b := data[off : off+recordLength]
		var f FlowEntry
		f.decodeCommon(b)
		f.TCPFlags = b[37]
		f.Protocol = b[38]
		f.ToS = b[39]
		f.SrcAS = binary.BigEndian.Uint16(b[40:42])
		f.DstAS = binary.BigEndian.Uint16(b[42:44])
		f.SrcMask = b[44]
		f.DstMask = b[45]
		n.Records = append(n.Records, f)
	}

	n.BaseLayer = layers.BaseLayer{Contents: data[:end]}
	return nil
}

// SerializeTo writes the header and entries. With FixLengths set the header
// count is taken from Records.
func (n *NetFlowV5) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if opts.FixLengths {
		n.Version = 5
		n.Count = uint16(len(n.Records))
	}
	bytes, err := b.PrependBytes(v5HeaderLength + len(n.Records)*recordLength)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(bytes[0:2], n.Version)
	binary.BigEndian.PutUint16(bytes[2:4], n.Count)
	binary.BigEndian.PutUint32(bytes[4:8], n.SysUptime)
	binary.BigEndian.PutUint32(bytes[8:12], n.UnixSecs)
	binary.BigEndian.PutUint32(bytes[12:16], n.UnixNsecs)
	binary.BigEndian.PutUint32(bytes[16:20], n.FlowSequence)
	bytes[20] = n.EngineType
	bytes[21] = n.EngineID
	binary.BigEndian.PutUint16(bytes[22:24], n.SamplingInterval)

	for i := range n.Records {
		r := bytes[v5HeaderLength+i*recordLength : v5HeaderLength+(i+1)*recordLength]
		f := &n.Records[i]
		f.encodeCommon(r)
		r[36] = 0
		r[37] = f.TCPFlags
		r[38] = f.Protocol
		r[39] = f.ToS
		binary.BigEndian.PutUint16(r[40:42], f.SrcAS)
		binary.BigEndian.PutUint16(r[42:44], f.DstAS)
		r[44] = f.SrcMask
		r[45] = f.DstMask
		r[46], r[47] = 0, 0
	}
	return nil
}

func decodeNetFlowV5(data []byte, p gopacket.PacketBuilder) error {
	n := &NetFlowV5{}
	if err := n.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(n)
	return nil
}
