package xbe

// Kind identifies which XOR keys an image's entry point and kernel thunk
// address are encoded with.
type Kind int

// Image kinds.
const (
	KindUnknown Kind = iota
	KindRetail
	KindDebug
	KindChihiro
)

func (k Kind) String() string {
	switch k {
	case KindRetail:
		return "Retail"
	case KindDebug:
		return "Debug"
	case KindChihiro:
		return "Chihiro"
	default:
		return "未知"
	}
}

type xorKeys struct {
	kind        Kind
	entryPoint  uint32
	kernelThunk uint32
}

var knownKeys = []xorKeys{
	{KindRetail, 0xA8FC57AB, 0x5B6D40B6},
	{KindDebug, 0x94859D4B, 0xEFB1F152},
	{KindChihiro, 0x40B5C16E, 0x2290059D},
}

// Kind guesses the image kind by finding the key that decodes the entry
// point into the mapped image.
func (h *ImageHeader) Kind() Kind {
	for _, k := range knownKeys {
		ep := h.EntryPoint ^ k.entryPoint
		if ep >= h.BaseAddress && ep < h.BaseAddress+h.SizeOfImage {
			return k.kind
		}
	}
	return KindUnknown
}

func (h *ImageHeader) keys() (xorKeys, bool) {
	kind := h.Kind()
	for _, k := range knownKeys {
		if k.kind == kind {
			return k, true
		}
	}
	return xorKeys{}, false
}

// DecodedEntryPoint returns the entry point virtual address. ok is false
// when no known key applies.
func (h *ImageHeader) DecodedEntryPoint() (ep uint32, ok bool) {
	k, ok := h.keys()
	if !ok {
		return 0, false
	}
	return h.EntryPoint ^ k.entryPoint, true
}

// SetEntryPoint encodes ep with the key matching the image's current kind.
func (h *ImageHeader) SetEntryPoint(ep uint32) bool {
	k, ok := h.keys()
	if !ok {
		return false
	}
	h.EntryPoint = ep ^ k.entryPoint
	return true
}

// KernelThunkAddress returns the decoded kernel import thunk table address.
func (h *ImageHeader) KernelThunkAddress() (uint32, bool) {
	k, ok := h.keys()
	if !ok {
		return 0, false
	}
	return h.KernelImageThunkAddress ^ k.kernelThunk, true
}

// headerAddressFields lists the header fields that point into the header
// region and must follow it when it grows.
func (h *ImageHeader) headerAddressFields() []*uint32 {
	return []*uint32{
		&h.CertificateAddress,
		&h.SectionHeadersAddress,
		&h.DebugPathnameAddress,
		&h.DebugFilenameAddress,
		&h.DebugUnicodeFilenameAddress,
		&h.NonKernelImportDirectoryAddress,
		&h.LibraryVersionsAddress,
		&h.KernelLibraryVersionAddress,
		&h.XAPILibraryVersionAddress,
		&h.LogoBitmapAddress,
	}
}

// ShiftHeaderAddresses adds delta to every header address field in
// [after, end of header region). Returns the number of fields moved.
// Section-relative addresses (entry point, TLS, kernel thunk) never lie in
// the header region and are left alone.
func (h *ImageHeader) ShiftHeaderAddresses(after, delta uint32) int {
	end := h.BaseAddress + h.SizeOfHeaders
	moved := 0
	for _, f := range h.headerAddressFields() {
		if *f >= after && *f < end {
			*f += delta
			moved++
		}
	}
	return moved
}
