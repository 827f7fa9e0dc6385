package usbtmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

const (
	// USBTMC interface descriptor values
	classApplication gousb.Class = 0xFE
	subclassUSBTMC   gousb.Class = 0x03

	// DefaultPacketSize is used until the bulk IN endpoint reports its own.
	DefaultPacketSize = 64
)

// ErrDeviceNotFound is returned when no attached device matches the requested
// identifiers.
var ErrDeviceNotFound = errors.New("usbtmc: device not found")

// Options select the device a transport opens.
type Options struct {
	VendorID  uint16
	ProductID uint16
	Serial    string // empty selects the first matching device
	Interface int    // -1 auto-detects the USBTMC interface
}

// USBTransport moves raw USBTMC transfers over the bulk endpoints of one
// device.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	opts       Options
}

// OpenTransport finds the device described by opts, claims its USBTMC
// interface and opens the bulk endpoints.
func OpenTransport(opts Options) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := openDevice(ctx, opts)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	// Not fatal on all platforms
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		opts:       opts,
	}

	if err := t.claimInterface(); err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func openDevice(ctx *gousb.Context, opts Options) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == opts.VendorID && uint16(desc.Product) == opts.ProductID
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("USB error: %w", err)
	}

	var found *gousb.Device
	for _, dev := range devs {
		if found == nil && matchesSerial(dev, opts.Serial) {
			found = dev
			continue
		}
		dev.Close()
	}
	if found == nil {
		return nil, fmt.Errorf("%w (VID:0x%04X PID:0x%04X serial %q)",
			ErrDeviceNotFound, opts.VendorID, opts.ProductID, opts.Serial)
	}
	return found, nil
}

func matchesSerial(dev *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	got, err := dev.SerialNumber()
	return err == nil && got == serial
}

// claimInterface finds and claims the USBTMC interface
func (t *USBTransport) claimInterface() error {
	num, err := t.dev.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}
	cfg, err := t.dev.Config(num)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	t.cfg = cfg

	intfNum := t.opts.Interface
	if intfNum < 0 {
		var ok bool
		if intfNum, ok = findUSBTMCInterface(cfg.Desc); !ok {
			return fmt.Errorf("no USBTMC interface on device %04X:%04X", t.opts.VendorID, t.opts.ProductID)
		}
	}

	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", intfNum, err)
	}
	t.intf = intf

	return t.findEndpoints()
}

func findUSBTMCInterface(cfg gousb.ConfigDesc) (int, bool) {
	for _, intf := range cfg.Interfaces {
		if len(intf.AltSettings) == 0 {
			continue
		}
		alt := intf.AltSettings[0]
		if alt.Class == classApplication && alt.SubClass == subclassUSBTMC {
			return intf.Number, true
		}
	}
	return 0, false
}

// findEndpoints discovers the bulk IN and OUT endpoints
func (t *USBTransport) findEndpoints() error {
	var outAddr, inAddr int
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr == 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr == 0 {
				inAddr = ep.Number
				t.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outAddr == 0 {
		return fmt.Errorf("bulk OUT endpoint not found")
	}
	if inAddr == 0 {
		return fmt.Errorf("bulk IN endpoint not found")
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	t.epIn = epIn

	return nil
}

// Write sends one transfer on the bulk OUT endpoint.
func (t *USBTransport) Write(ctx context.Context, data []byte) (int, error) {
	n, err := t.epOut.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("USB write failed: %w", err)
	}
	return n, nil
}

// Read receives up to len(data) bytes from the bulk IN endpoint.
func (t *USBTransport) Read(ctx context.Context, data []byte) (int, error) {
	n, err := t.epIn.ReadContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

// MaxPacketSize returns the bulk IN packet size.
func (t *USBTransport) MaxPacketSize() int {
	return t.packetSize
}

// Close releases USB resources
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
