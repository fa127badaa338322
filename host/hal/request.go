package hal

import (
	"encoding/binary"
	"unicode/utf16"
)

// Standard request codes (USB 2.0 table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
)

// Request type fields.
const (
	RequestTypeOut      = 0x00 // Host to device
	RequestTypeIn       = 0x80 // Device to host
	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
	RequestTypeDevice   = 0x00 // Recipient: device
	RequestTypeEndpoint = 0x02 // Recipient: endpoint
)

// Descriptor types.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// GetDescriptor returns the SETUP packet requesting length bytes of the
// descriptor of the given type and index.
func GetDescriptor(descType, index uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(index),
		Length:      length,
	}
}

// SetConfiguration returns the SETUP packet selecting configuration value.
func SetConfiguration(value uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(value),
	}
}

// DeviceDescriptor is the 18-byte descriptor read during enumeration.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

const DeviceDescriptorSize = 18

// ParseDeviceDescriptor decodes data into out. It returns false if data is
// shorter than [DeviceDescriptorSize].
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) bool {
	if len(data) < DeviceDescriptorSize {
		return false
	}
	le := binary.LittleEndian
	*out = DeviceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		USBVersion:        le.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          le.Uint16(data[8:]),
		ProductID:         le.Uint16(data[10:]),
		DeviceVersion:     le.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return true
}

// MarshalTo encodes the descriptor into buf. The length and type bytes are
// always written as a device descriptor's. It returns the bytes written, or
// 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	le := binary.LittleEndian
	buf[0], buf[1] = DeviceDescriptorSize, DescriptorTypeDevice
	le.PutUint16(buf[2:], d.USBVersion)
	buf[4], buf[5], buf[6], buf[7] = d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0
	le.PutUint16(buf[8:], d.VendorID)
	le.PutUint16(buf[10:], d.ProductID)
	le.PutUint16(buf[12:], d.DeviceVersion)
	buf[14], buf[15], buf[16], buf[17] = d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations
	return DeviceDescriptorSize
}

// Descriptor sizes.
const (
	ConfigurationDescriptorSize = 9
	EndpointDescriptorSize      = 7
)

// ConfigurationTotalLength returns wTotalLength from a configuration
// descriptor header, the size of the whole configuration tree.
func ConfigurationTotalLength(data []byte) (uint16, bool) {
	if len(data) < ConfigurationDescriptorSize || data[1] != DescriptorTypeConfiguration {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data[2:4]), true
}

// ParseEndpoints walks a configuration descriptor tree and returns its
// endpoint descriptors in order. Walking stops at the first malformed
// descriptor.
func ParseEndpoints(config []byte) []EndpointDescriptor {
	total, ok := ConfigurationTotalLength(config)
	if !ok {
		return nil
	}
	end := min(int(total), len(config))

	var eps []EndpointDescriptor
	for off := int(config[0]); off+2 <= end; {
		length := int(config[off])
		if length < 2 || off+length > end {
			break
		}
		if config[off+1] == DescriptorTypeEndpoint && length >= EndpointDescriptorSize {
			d := config[off:]
			eps = append(eps, EndpointDescriptor{
				Address:       d[2],
				Attributes:    d[3],
				MaxPacketSize: binary.LittleEndian.Uint16(d[4:6]),
				Interval:      d[6],
			})
		}
		off += length
	}
	return eps
}

// ParseStringDescriptor decodes a UTF-16LE string descriptor. A bLength
// beyond data is clamped to the bytes present.
func ParseStringDescriptor(data []byte) (string, bool) {
	if len(data) < 2 || data[1] != DescriptorTypeString {
		return "", false
	}
	n := min(int(data[0]), len(data))
	units := make([]uint16, 0, max(n-2, 0)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units)), true
}
