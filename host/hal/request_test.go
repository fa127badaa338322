package hal

import "testing"

func TestGetDescriptor(t *testing.T) {
	s := GetDescriptor(DescriptorTypeDevice, 0, DeviceDescriptorSize)

	var buf [SetupPacketSize]byte
	s.MarshalTo(buf[:])
	want := [SetupPacketSize]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	if buf != want {
		t.Errorf("GetDescriptor(device) = % x, want % x", buf, want)
	}
}

func TestSetConfiguration(t *testing.T) {
	s := SetConfiguration(1)
	if s.RequestType != 0x00 || s.Request != RequestSetConfiguration || s.Value != 1 || s.Length != 0 {
		t.Errorf("SetConfiguration(1) = %+v", s)
	}
}

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	d := DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       0xFF,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0x0001,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	if n := d.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}

	var got DeviceDescriptor
	if !ParseDeviceDescriptor(buf[:], &got) {
		t.Fatal("ParseDeviceDescriptor() = false")
	}
	d.Length = DeviceDescriptorSize
	d.DescriptorType = DescriptorTypeDevice
	if got != d {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}
}

func TestDeviceDescriptor_Short(t *testing.T) {
	var d DeviceDescriptor
	if ParseDeviceDescriptor(make([]byte, DeviceDescriptorSize-1), &d) {
		t.Error("ParseDeviceDescriptor(short) = true")
	}
	if n := d.MarshalTo(make([]byte, 4)); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

var testConfig = []byte{
	9, DescriptorTypeConfiguration, 39, 0, 1, 1, 0, 0x80, 50,
	9, DescriptorTypeInterface, 0, 0, 3, 0xff, 0, 0, 0,
	7, DescriptorTypeEndpoint, 0x01, 0x02, 0x00, 0x02, 0,
	7, DescriptorTypeEndpoint, 0x81, 0x02, 0x00, 0x02, 0,
	7, DescriptorTypeEndpoint, 0x83, 0x03, 0x08, 0x00, 10,
}

func TestParseEndpoints(t *testing.T) {
	eps := ParseEndpoints(testConfig)
	if len(eps) != 3 {
		t.Fatalf("ParseEndpoints() returned %d endpoints, want 3", len(eps))
	}

	tests := []struct {
		typ    TransferType
		dci    uint8
		packet uint16
	}{
		{TransferBulk, 2, 512},
		{TransferBulk, 3, 512},
		{TransferInterrupt, 7, 8},
	}
	for i, tt := range tests {
		if got := eps[i].TransferType(); got != tt.typ {
			t.Errorf("endpoint %d: TransferType() = %d, want %d", i, got, tt.typ)
		}
		if got := eps[i].DCI(); got != tt.dci {
			t.Errorf("endpoint %d: DCI() = %d, want %d", i, got, tt.dci)
		}
		if eps[i].MaxPacketSize != tt.packet {
			t.Errorf("endpoint %d: MaxPacketSize = %d, want %d", i, eps[i].MaxPacketSize, tt.packet)
		}
	}
	if eps[2].Interval != 10 {
		t.Errorf("Interval = %d, want 10", eps[2].Interval)
	}
}

func TestParseEndpoints_Malformed(t *testing.T) {
	truncated := append([]byte(nil), testConfig[:24]...)
	if eps := ParseEndpoints(truncated); len(eps) != 0 {
		t.Errorf("truncated tree: got %d endpoints, want 0", len(eps))
	}

	// wTotalLength bounds the walk.
	short := append([]byte(nil), testConfig...)
	short[2] = 25
	if eps := ParseEndpoints(short); len(eps) != 1 {
		t.Errorf("wTotalLength 25: got %d endpoints, want 1", len(eps))
	}

	zero := append([]byte(nil), testConfig...)
	zero[18] = 0
	if eps := ParseEndpoints(zero); eps != nil {
		t.Errorf("zero length descriptor: got %d endpoints, want none", len(eps))
	}

	if eps := ParseEndpoints(testConfig[9:]); eps != nil {
		t.Error("interface descriptor accepted as configuration header")
	}
}

func TestConfigurationTotalLength(t *testing.T) {
	if n, ok := ConfigurationTotalLength(testConfig); !ok || n != 39 {
		t.Errorf("ConfigurationTotalLength() = %d, %v; want 39, true", n, ok)
	}
	if _, ok := ConfigurationTotalLength(testConfig[:8]); ok {
		t.Error("short header accepted")
	}
}

func TestParseStringDescriptor(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
		ok   bool
	}{
		{"ascii", []byte{8, DescriptorTypeString, 'U', 0, 'S', 0, 'B', 0}, "USB", true},
		{"non-ascii", []byte{4, DescriptorTypeString, 0xe9, 0x00}, "é", true},
		{"surrogate pair", []byte{6, DescriptorTypeString, 0x3d, 0xd8, 0x00, 0xde}, "😀", true},
		{"empty", []byte{2, DescriptorTypeString}, "", true},
		{"clamped", []byte{10, DescriptorTypeString, 'o', 0, 'k', 0}, "ok", true},
		{"wrong type", []byte{4, DescriptorTypeDevice, 'x', 0}, "", false},
		{"short", []byte{2}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStringDescriptor(tt.data)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseStringDescriptor() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
