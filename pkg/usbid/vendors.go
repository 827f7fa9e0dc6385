package usbid

import "fmt"

// Vendor is a USB-IF vendor ID entry for a test-equipment manufacturer.
type Vendor struct {
	ID           uint16
	Name         string
	Abbreviation string
}

// vendors is the instrument manufacturer database
var vendors = map[uint16]Vendor{
	0x0699: {ID: 0x0699, Name: "Tektronix", Abbreviation: "Tek"},
	0x0957: {ID: 0x0957, Name: "Agilent Technologies", Abbreviation: "Agilent"},
	0x2A8D: {ID: 0x2A8D, Name: "Keysight Technologies", Abbreviation: "Keysight"},
	0x05E6: {ID: 0x05E6, Name: "Keithley Instruments", Abbreviation: "Keithley"},
	0x0AAD: {ID: 0x0AAD, Name: "Rohde & Schwarz", Abbreviation: "R&S"},
	0x1AB1: {ID: 0x1AB1, Name: "Rigol Technologies", Abbreviation: "Rigol"},
	0xF4EC: {ID: 0xF4EC, Name: "Siglent Technologies", Abbreviation: "Siglent"},
	0xF4ED: {ID: 0xF4ED, Name: "Siglent Technologies", Abbreviation: "Siglent"},
	0x2184: {ID: 0x2184, Name: "Good Will Instrument (GW Instek)", Abbreviation: "GW Instek"},
	0x0B21: {ID: 0x0B21, Name: "Yokogawa", Abbreviation: "Yokogawa"},
	0x0F7E: {ID: 0x0F7E, Name: "Fluke", Abbreviation: "Fluke"},
	0x1313: {ID: 0x1313, Name: "Thorlabs", Abbreviation: "Thorlabs"},
	0x3923: {ID: 0x3923, Name: "National Instruments", Abbreviation: "NI"},
	0x5345: {ID: 0x5345, Name: "Owon", Abbreviation: "Owon"},
}

// LookupVendor returns vendor info for a USB vendor ID. Unknown IDs yield a
// placeholder entry and false.
func LookupVendor(id uint16) (Vendor, bool) {
	v, ok := vendors[id]
	if !ok {
		return Vendor{
			ID:           id,
			Name:         fmt.Sprintf("Unknown (0x%04X)", id),
			Abbreviation: "Unknown",
		}, false
	}
	return v, true
}

// VendorName returns the vendor's full name, or a hex placeholder.
func VendorName(id uint16) string {
	v, _ := LookupVendor(id)
	return v.Name
}
