package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ResourceClassInstr is the VISA resource class for message-based instruments.
const ResourceClassInstr = "INSTR"

// USBAddress holds the USB-specific identifiers of a resolved address:
//
//	USB[board]::<vendor>::<product>[::<serial>][::<interface>][::INSTR]
type USBAddress struct {
	Board     int
	VendorID  uint16
	ProductID uint16
	Serial    string // empty matches any device with the vendor/product pair
	Interface int    // USBTMC interface number, -1 to auto-detect
	Class     string // resource class suffix, usually INSTR
}

// String renders the canonical VISA form of the address.
func (u USBAddress) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "USB%d::0x%04X::0x%04X", u.Board, u.VendorID, u.ProductID)
	if u.Serial != "" {
		b.WriteString(Delimiter + u.Serial)
	}
	if u.Interface >= 0 {
		fmt.Fprintf(&b, "%s%d", Delimiter, u.Interface)
	}
	class := u.Class
	if class == "" {
		class = ResourceClassInstr
	}
	b.WriteString(Delimiter + class)
	return b.String()
}

// USBSpec recognises USB addresses. Vendor and product IDs are mandatory; the
// remaining segments are optional and kept verbatim in Resolved.Fields.
var USBSpec = InterfaceSpec{
	Kind:      KindUSB,
	Keyword:   "USB",
	MinFields: 2,
	Parse:     parseUSB,
}

func parseUSB(r *Resolved) error {
	vid, err := ParseUint16Hex(r.Fields[0])
	if err != nil {
		return fieldError(ErrMalformedField, 1, r.Fields[0], err)
	}
	pid, err := ParseUint16Hex(r.Fields[1])
	if err != nil {
		return fieldError(ErrMalformedField, 2, r.Fields[1], err)
	}

	usb := USBAddress{
		Board:     r.Board,
		VendorID:  vid,
		ProductID: pid,
		Interface: -1,
	}

	rest := r.Fields[2:]
	if n := len(rest); n > 0 && strings.EqualFold(rest[n-1], ResourceClassInstr) {
		usb.Class = ResourceClassInstr
		rest = rest[:n-1]
	}
	if len(rest) > 0 {
		usb.Serial = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		n, err := strconv.ParseUint(rest[0], 10, 8)
		if err != nil {
			return fieldError(ErrMalformedField, 4, rest[0], fmt.Errorf("invalid interface number: %w", err))
		}
		usb.Interface = int(n)
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return fieldError(ErrMalformedField, 5, rest[0], errors.New("unexpected segment"))
	}

	r.USB = usb
	return nil
}

// ParseUint16Hex parses a 16-bit hexadecimal field. A leading "0x" or "0X" is
// optional; digits may be upper or lower case.
func ParseUint16Hex(s string) (uint16, error) {
	digits := s
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	if digits == "" {
		return 0, fmt.Errorf("empty hex value %q", s)
	}
	v, err := strconv.ParseUint(digits, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid 16-bit hex value %q: %w", s, err)
	}
	return uint16(v), nil
}
