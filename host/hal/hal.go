package hal

import "encoding/binary"

// Speed is the connection speed a root hub port reports for its device.
type Speed uint8

// Port speeds (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // 1.5 Mbit/s
	SpeedFull                 // 12 Mbit/s
	SpeedHigh                 // 480 Mbit/s
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// PortStatus is a snapshot of a root hub port. The change flags are set by
// the controller and cleared when the status is read back.
type PortStatus struct {
	Connected bool
	Enabled   bool
	PowerOn   bool
	Speed     Speed

	ConnectChange bool
	EnableChange  bool
	ResetChange   bool
}

// SetupPacket is the 8-byte request that opens every control transfer.
// Setup Stage blocks carry it as immediate data.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength, the data stage size
}

// SetupPacketSize is the wire size of a [SetupPacket].
const SetupPacketSize = 8

// ParseSetupPacket decodes the little-endian wire form into out. It returns
// false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}
	return true
}

// MarshalTo writes the wire form to buf and returns [SetupPacketSize], or 0
// if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// TransferType is the bmAttributes transfer type of an endpoint.
type TransferType uint8

const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

// EndpointDescriptor is the part of a USB endpoint descriptor the host needs
// to open a transfer ring.
type EndpointDescriptor struct {
	Address       uint8 // bEndpointAddress, bit 7 set for IN
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 { return e.Address & 0x0f }

// IsIn reports whether the endpoint transfers device to host.
func (e *EndpointDescriptor) IsIn() bool { return e.Address&0x80 != 0 }

func (e *EndpointDescriptor) TransferType() TransferType {
	return TransferType(e.Attributes & 0x03)
}

// DCI returns the device context index of the endpoint, which is also its
// doorbell target. The default control endpoint is DCI 1; every other
// endpoint is 2*number, plus one for IN.
func (e *EndpointDescriptor) DCI() uint8 {
	if e.Number() == 0 {
		return 1
	}
	dci := e.Number() * 2
	if e.IsIn() {
		dci++
	}
	return dci
}

// IsInDCI reports whether the endpoint at device context index dci transfers
// device to host. The default control endpoint is bidirectional and
// reports false.
func IsInDCI(dci uint8) bool {
	return dci > 1 && dci&1 == 1
}

// DeviceAddress is the USB address (1-127) the controller assigns while
// addressing a device slot.
type DeviceAddress uint8
