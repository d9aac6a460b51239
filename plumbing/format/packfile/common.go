package packfile

var signature = []byte{'P', 'A', 'C', 'K'}

const (
	// VersionSupported is the packfile version supported by this package
	VersionSupported uint32 = 2

	firstLengthBits = uint8(4)   // the first byte into object header has 4 bits to store the length
	lengthBits      = uint8(7)   // subsequent bytes has 7 bits to store the length
	maskFirstLength = 15         // 0000 1111
	maskContinue    = 0x80       // 1000 0000
	maskLength      = uint8(127) // 0111 1111
	maskType        = uint8(112) // 0111 0000

	// minCopySize mirrors minDeltaSize: patchDelta is also called
	// directly by callers that skip PatchDelta's own guard.
	minCopySize = minDeltaSize

	// maxCopySize is the copy-instruction size git substitutes when all
	// three optional size bytes are absent from the opcode.
	maxCopySize = 0x10000
)
