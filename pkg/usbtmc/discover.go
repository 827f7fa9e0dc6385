package usbtmc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/OpenTraceVISA/pkg/address"
	"github.com/OpenTraceLab/OpenTraceVISA/pkg/usbid"
)

// DeviceInfo describes an attached USBTMC instrument.
type DeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
	Interface    int
	Bus          int
	Address      int
}

// Resource returns the VISA resource address that connects to the device.
func (d DeviceInfo) Resource() string {
	return address.USBAddress{
		VendorID:  d.VendorID,
		ProductID: d.ProductID,
		Serial:    d.Serial,
		Interface: -1,
		Class:     address.ResourceClassInstr,
	}.String()
}

// Label returns a user-friendly description for the device.
func (d DeviceInfo) Label() string {
	vendor := d.Manufacturer
	if vendor == "" {
		vendor = usbid.VendorName(d.VendorID)
	}
	if d.Product != "" {
		return fmt.Sprintf("%s %s", vendor, d.Product)
	}
	return fmt.Sprintf("%s (%04X:%04X)", vendor, d.VendorID, d.ProductID)
}

// Discover enumerates attached devices exposing a USBTMC interface. Devices
// that cannot be opened for lack of permission are still listed, without
// string descriptors.
func Discover(ctx context.Context) ([]DeviceInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var results []DeviceInfo
	found := map[busAddr]DeviceInfo{}

	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		num, ok := findDescInterface(desc)
		if ok {
			found[busAddr{desc.Bus, desc.Address}] = deviceInfo(desc, num)
		}
		return ok
	})
	for _, dev := range devs {
		key := busAddr{dev.Desc.Bus, dev.Desc.Address}
		info, ok := found[key]
		if !ok {
			info = deviceInfo(dev.Desc, -1)
		}
		info.Serial, _ = dev.SerialNumber()
		info.Manufacturer, _ = dev.Manufacturer()
		info.Product, _ = dev.Product()
		found[key] = info
		dev.Close()
	}
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, info := range found {
		results = append(results, info)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Bus != results[j].Bus {
			return results[i].Bus < results[j].Bus
		}
		return results[i].Address < results[j].Address
	})
	return results, nil
}

type busAddr struct{ bus, addr int }

func deviceInfo(desc *gousb.DeviceDesc, intf int) DeviceInfo {
	return DeviceInfo{
		VendorID:  uint16(desc.Vendor),
		ProductID: uint16(desc.Product),
		Interface: intf,
		Bus:       desc.Bus,
		Address:   desc.Address,
	}
}

func findDescInterface(desc *gousb.DeviceDesc) (int, bool) {
	nums := make([]int, 0, len(desc.Configs))
	for n := range desc.Configs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if num, ok := findUSBTMCInterface(desc.Configs[n]); ok {
			return num, true
		}
	}
	return 0, false
}
