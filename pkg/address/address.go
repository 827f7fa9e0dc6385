package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
)

// InterfaceKind identifies a transport family selected by the first segment
// of a resource address.
type InterfaceKind string

const (
	KindUSB InterfaceKind = "USB"

	// Reserved families. They are named so that error messages can be specific,
	// but no resolver or connector exists for them.
	KindTCPIP InterfaceKind = "TCPIP"
	KindGPIB  InterfaceKind = "GPIB"
	KindVICP  InterfaceKind = "VICP"
	KindLSIB  InterfaceKind = "LSIB"
)

var reservedKinds = []InterfaceKind{KindTCPIP, KindGPIB, KindVICP, KindLSIB}

// Resolved is a resource address after resolution. It is produced once at
// connect time and consumed by the connector factory.
type Resolved struct {
	Raw    string
	Kind   InterfaceKind
	Tag    string   // first segment as written, e.g. "USB0"
	Board  int      // board number suffix of Tag, 0 when absent
	Fields []string // remaining segments in order, verbatim

	// USB is populated when Kind is KindUSB.
	USB USBAddress
}

// String renders the address in canonical form.
func (r Resolved) String() string {
	if r.Kind == KindUSB {
		return r.USB.String()
	}
	return strings.Join(append([]string{r.Tag}, r.Fields...), Delimiter)
}

// InterfaceSpec describes how one transport family is recognised and how its
// fields are interpreted.
type InterfaceSpec struct {
	Kind InterfaceKind
	// Keyword is matched case-insensitively against the first segment, which
	// may carry a decimal board number suffix ("USB", "USB0", "usb1").
	Keyword string
	// MinFields is the number of segments required after the tag.
	MinFields int
	// Parse fills the transport-specific parts of r. Errors should be built
	// with the package sentinels so callers can classify them.
	Parse func(r *Resolved) error
}

func (s InterfaceSpec) match(tag string) (board int, ok bool) {
	if len(tag) < len(s.Keyword) || !strings.EqualFold(tag[:len(s.Keyword)], s.Keyword) {
		return 0, false
	}
	suffix := tag[len(s.Keyword):]
	if suffix == "" {
		return 0, true
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolver turns resource address strings into Resolved values using a table
// of interface specs.
type Resolver struct {
	mu    sync.RWMutex
	specs []InterfaceSpec
}

// NewResolver returns a resolver that knows the given interface specs.
func NewResolver(specs ...InterfaceSpec) *Resolver {
	r := &Resolver{}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Register adds spec to the table. A later spec with the same Kind replaces
// the earlier one.
func (r *Resolver) Register(spec InterfaceSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.specs {
		if s.Kind == spec.Kind {
			r.specs[i] = spec
			return
		}
	}
	r.specs = append(r.specs, spec)
}

// Kinds lists the registered interface kinds in registration order.
func (r *Resolver) Kinds() []InterfaceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]InterfaceKind, 0, len(r.specs))
	for _, s := range r.specs {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// Resolve parses addr. Resolution is all-or-nothing: on failure the returned
// Resolved is the zero value and the error is an *Error.
func (r *Resolver) Resolve(addr string) (Resolved, error) {
	res, err := r.resolve(addr)
	if err != nil {
		var aerr *Error
		if errors.As(err, &aerr) {
			aerr.Address = addr
			return Resolved{}, aerr
		}
		return Resolved{}, &Error{Address: addr, Segment: -1, Kind: ErrMalformedField, Cause: err}
	}
	return res, nil
}

func (r *Resolver) resolve(addr string) (Resolved, error) {
	segments, err := Split(addr)
	if err != nil {
		return Resolved{}, err
	}
	if len(segments) < 2 {
		return Resolved{}, fieldError(ErrMissingField, len(segments), "", nil)
	}

	tag := segments[0]
	spec, board, ok := r.lookup(tag)
	if !ok {
		return Resolved{}, unrecognized(tag)
	}

	res := Resolved{
		Raw:    addr,
		Kind:   spec.Kind,
		Tag:    tag,
		Board:  board,
		Fields: segments[1:],
	}
	if len(res.Fields) < spec.MinFields {
		return Resolved{}, fieldError(ErrMissingField, len(segments), "", nil)
	}
	if spec.Parse != nil {
		if err := spec.Parse(&res); err != nil {
			return Resolved{}, err
		}
	}
	return res, nil
}

func (r *Resolver) lookup(tag string) (InterfaceSpec, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.specs {
		if board, ok := s.match(tag); ok {
			return s, board, true
		}
	}
	return InterfaceSpec{}, 0, false
}

func unrecognized(tag string) *Error {
	var cause error
	for _, k := range reservedKinds {
		if _, ok := (InterfaceSpec{Keyword: string(k)}).match(tag); ok {
			cause = fmt.Errorf("%s transport is not supported", k)
			break
		}
	}
	return fieldError(ErrUnrecognizedInterface, 0, tag, cause)
}

// Split breaks addr into its non-empty segments. Surrounding whitespace is
// ignored; empty segments and stray characters are reported as *Error.
func Split(addr string) ([]string, error) {
	input := strings.TrimSpace(addr)
	if input == "" {
		e := fieldError(ErrMissingField, 0, "", nil)
		e.Address = addr
		return nil, e
	}
	g, err := addressParser.ParseString("", input)
	if err != nil {
		e := classifyParseError(input, err)
		e.Address = addr
		return nil, e
	}
	return g.Segments, nil
}

// classifyParseError maps a grammar failure to a segment-level error. The
// grammar only ever expects a Field token, so finding a delimiter or the end
// of input in its place means a segment is empty.
func classifyParseError(input string, err error) *Error {
	var ute *participle.UnexpectedTokenError
	if !errors.As(err, &ute) {
		segment := -1
		var perr participle.Error
		if errors.As(err, &perr) {
			segment = segmentAt(input, perr.Position().Offset)
		}
		return fieldError(ErrMalformedField, segment, "", err)
	}
	tok := ute.Unexpected
	offset := min(max(tok.Pos.Offset, 0), len(input))
	segment := segmentAt(input, offset)
	switch {
	case tok.EOF():
		return fieldError(ErrMissingField, segment, "", nil)
	case tok.Value == Delimiter:
		// The empty segment is the one this delimiter closes when it starts the
		// input or follows another delimiter, otherwise the one it opens.
		if offset > 0 && !strings.HasSuffix(input[:offset], Delimiter) {
			segment++
		}
		return fieldError(ErrMissingField, segment, "", nil)
	}
	return fieldError(ErrMalformedField, segment, tok.Value, fmt.Errorf("unexpected %q", tok.Value))
}

func segmentAt(input string, offset int) int {
	offset = min(max(offset, 0), len(input))
	return strings.Count(input[:offset], Delimiter)
}

var defaultResolver = NewResolver(USBSpec)

// Resolve parses addr with the default resolver, which knows only the USB
// family.
func Resolve(addr string) (Resolved, error) {
	return defaultResolver.Resolve(addr)
}
