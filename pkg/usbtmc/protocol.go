package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// USBTMC bulk message IDs
const (
	MsgDevDepMsgOut            = 0x01
	MsgRequestDevDepMsgIn      = 0x02
	MsgDevDepMsgIn             = 0x02
	MsgVendorSpecificOut       = 0x7E
	MsgRequestVendorSpecificIn = 0x7F
)

// bmTransferAttributes bits
const (
	AttrEOM             = 0x01 // last transfer of a message
	AttrTermCharEnabled = 0x02 // REQUEST_DEV_DEP_MSG_IN only
)

// HeaderSize is the length of every USBTMC bulk header.
const HeaderSize = 12

// ErrShortTransfer is returned by DecodeDevDepMsgIn when fewer bytes than the
// header announces have been received. The caller should read more and retry.
var ErrShortTransfer = errors.New("usbtmc: short transfer")

// ErrTagMismatch is returned by DecodeDevDepMsgIn for a complete transfer that
// answers a different request, typically one that already timed out.
var ErrTagMismatch = errors.New("usbtmc: bTag mismatch")

// MsgIn is a decoded DEV_DEP_MSG_IN transfer.
type MsgIn struct {
	Tag          byte
	TransferSize uint32
	EOM          bool
	Data         []byte
}

// Protocol encodes and decodes USBTMC bulk transfers. It owns the bTag
// sequence, so one Protocol must serve one device.
type Protocol struct {
	tag byte
}

// NewProtocol creates a new protocol handler
func NewProtocol() *Protocol {
	return &Protocol{}
}

// nextTag returns the next bTag. Valid tags are 1..255.
func (p *Protocol) nextTag() byte {
	p.tag++
	if p.tag == 0 {
		p.tag = 1
	}
	return p.tag
}

func (p *Protocol) header(msgID byte, size uint32, attrs byte) []byte {
	tag := p.nextTag()
	hdr := make([]byte, HeaderSize)
	hdr[0] = msgID
	hdr[1] = tag
	hdr[2] = ^tag
	binary.LittleEndian.PutUint32(hdr[4:8], size)
	hdr[8] = attrs
	return hdr
}

// EncodeDevDepMsgOut builds a DEV_DEP_MSG_OUT transfer carrying data. The
// result is padded to a multiple of four bytes.
func (p *Protocol) EncodeDevDepMsgOut(data []byte, eom bool) []byte {
	var attrs byte
	if eom {
		attrs |= AttrEOM
	}
	frame := append(p.header(MsgDevDepMsgOut, uint32(len(data)), attrs), data...)
	if pad := len(frame) % 4; pad != 0 {
		frame = append(frame, make([]byte, 4-pad)...)
	}
	return frame
}

// EncodeRequestDevDepMsgIn builds a REQUEST_DEV_DEP_MSG_IN transfer asking the
// device for at most maxSize bytes. A termChar of -1 disables the term
// character.
func (p *Protocol) EncodeRequestDevDepMsgIn(maxSize uint32, termChar int) []byte {
	var attrs byte
	if termChar >= 0 {
		attrs |= AttrTermCharEnabled
	}
	hdr := p.header(MsgRequestDevDepMsgIn, maxSize, attrs)
	if termChar >= 0 {
		hdr[9] = byte(termChar)
	}
	return hdr
}

// DecodeDevDepMsgIn parses a DEV_DEP_MSG_IN transfer sent in answer to the
// request tagged wantTag.
func (p *Protocol) DecodeDevDepMsgIn(resp []byte, wantTag byte) (MsgIn, error) {
	if len(resp) < HeaderSize {
		return MsgIn{}, fmt.Errorf("%w: header incomplete (%d bytes)", ErrShortTransfer, len(resp))
	}
	if resp[0] != MsgDevDepMsgIn {
		return MsgIn{}, fmt.Errorf("usbtmc: invalid message ID: 0x%02X", resp[0])
	}
	if resp[1] != ^resp[2] {
		return MsgIn{}, fmt.Errorf("usbtmc: corrupt bTag 0x%02X/0x%02X", resp[1], resp[2])
	}

	size := binary.LittleEndian.Uint32(resp[4:8])
	if uint64(len(resp)-HeaderSize) < uint64(size) {
		return MsgIn{}, fmt.Errorf("%w: %d of %d payload bytes", ErrShortTransfer, len(resp)-HeaderSize, size)
	}
	if resp[1] != wantTag {
		return MsgIn{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrTagMismatch, resp[1], wantTag)
	}

	return MsgIn{
		Tag:          resp[1],
		TransferSize: size,
		EOM:          resp[8]&AttrEOM != 0,
		Data:         resp[HeaderSize : HeaderSize+int(size)],
	}, nil
}

// frameLen returns the length of the transfer whose header starts hdr,
// including the alignment padding. hdr must hold a complete header.
func frameLen(hdr []byte) int {
	n := HeaderSize + int(binary.LittleEndian.Uint32(hdr[4:8]))
	return (n + 3) &^ 3
}
