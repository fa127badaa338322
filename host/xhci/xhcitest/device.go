package xhcitest

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Device is a simulated USB device usable as the handler of every endpoint
// it exposes. Control requests are answered from its descriptor tables.
// Bulk OUT data is queued and returned in order on bulk IN.
type Device struct {
	mu            sync.Mutex
	descriptor    hal.DeviceDescriptor
	configs       [][]byte
	strings       map[uint8][]byte
	address       hal.DeviceAddress
	configuration uint8
	loop          [][]byte
}

// NewDevice returns a device with the given device descriptor.
func NewDevice(desc hal.DeviceDescriptor) *Device {
	return &Device{descriptor: desc, strings: make(map[uint8][]byte)}
}

// AddConfiguration appends a raw configuration descriptor, including its
// interface and endpoint descriptors.
func (d *Device) AddConfiguration(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, raw)
}

// AddString registers a raw string descriptor at index.
func (d *Device) AddString(index uint8, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strings[index] = raw
}

// Address returns the address set by SET_ADDRESS.
func (d *Device) Address() hal.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// Configuration returns the value set by SET_CONFIGURATION.
func (d *Device) Configuration() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configuration
}

// Transfer implements Endpoint.
func (d *Device) Transfer(req *Request) (int, trb.CompletionCode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.Setup != nil {
		return d.control(req)
	}
	if !req.In {
		d.loop = append(d.loop, append([]byte(nil), req.Data...))
		return len(req.Data), trb.CodeSuccess
	}
	// Nothing queued completes as a zero length packet.
	if len(d.loop) == 0 {
		return 0, trb.CodeSuccess
	}
	n := copy(req.Data, d.loop[0])
	if n < len(d.loop[0]) {
		d.loop[0] = d.loop[0][n:]
	} else {
		d.loop = d.loop[1:]
	}
	return n, trb.CodeSuccess
}

func (d *Device) control(req *Request) (int, trb.CompletionCode) {
	resp, err := d.setup(req.Setup)
	if err != nil {
		pkg.LogDebug(pkg.ComponentSim, "request stalled",
			"request", req.Setup.Request, "value", req.Setup.Value, "error", err)
		return 0, trb.CodeStallError
	}
	if req.In {
		return copy(req.Data, resp), trb.CodeSuccess
	}
	return len(req.Data), trb.CodeSuccess
}

// setup answers a standard device request. An error stalls the request.
func (d *Device) setup(s *hal.SetupPacket) ([]byte, error) {
	if s.RequestType&0x60 != hal.RequestTypeStandard || s.RequestType&0x1f != hal.RequestTypeDevice {
		return nil, pkg.ErrNotSupported
	}

	switch s.Request {
	case hal.RequestGetStatus:
		return []byte{0, 0}, nil

	case hal.RequestSetAddress:
		if s.Value > maxAddress {
			return nil, pkg.ErrInvalidParameter
		}
		d.address = hal.DeviceAddress(s.Value)
		return nil, nil

	case hal.RequestGetDescriptor:
		return d.descriptorFor(uint8(s.Value>>8), uint8(s.Value))

	case hal.RequestGetConfiguration:
		return []byte{d.configuration}, nil

	case hal.RequestSetConfiguration:
		if s.Value != 0 && int(s.Value) > len(d.configs) {
			return nil, pkg.ErrInvalidParameter
		}
		d.configuration = uint8(s.Value)
		return nil, nil
	}
	return nil, pkg.ErrNotSupported
}

func (d *Device) descriptorFor(typ, index uint8) ([]byte, error) {
	switch typ {
	case hal.DescriptorTypeDevice:
		buf := make([]byte, hal.DeviceDescriptorSize)
		d.descriptor.MarshalTo(buf)
		return buf, nil

	case hal.DescriptorTypeConfiguration:
		if int(index) >= len(d.configs) {
			return nil, pkg.ErrInvalidParameter
		}
		return d.configs[index], nil

	case hal.DescriptorTypeString:
		if raw, ok := d.strings[index]; ok {
			return raw, nil
		}
		return nil, pkg.ErrInvalidParameter
	}
	return nil, pkg.ErrNotSupported
}

// StringDescriptor encodes s as a USB string descriptor, truncated to the
// 126 UTF-16 code units a descriptor can hold. Runes outside the basic
// multilingual plane are not supported.
func StringDescriptor(s string) []byte {
	runes := []rune(s)
	runes = runes[:min(len(runes), 126)]
	buf := make([]byte, 2+2*len(runes))
	buf[0] = byte(len(buf))
	buf[1] = hal.DescriptorTypeString
	for i, r := range runes {
		binary.LittleEndian.PutUint16(buf[2+2*i:], uint16(r))
	}
	return buf
}
