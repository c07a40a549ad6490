package ccid

// USB interface class for Chip/Smart Card Interface Devices.
const smartCardClass = 0x0b

// PC-to-RDR message types.
const (
	msgIccPowerOn    = 0x62
	msgIccPowerOff   = 0x63
	msgGetSlotStatus = 0x65
	msgEscape        = 0x6b
	msgXfrBlock      = 0x6f
)

// RDR-to-PC message types.
const (
	msgDataBlock        = 0x80
	msgSlotStatus       = 0x81
	msgParameters       = 0x82
	msgEscapeResponse   = 0x83
	msgNotifySlotChange = 0x50
)

// bStatus ICC status, bits 0..1.
const (
	iccActive     = 0
	iccInactive   = 1 // card present but not powered
	iccNotPresent = 2
)

// bStatus command status, bits 6..7.
const (
	cmdSuccess       = 0
	cmdFailed        = 1
	cmdTimeExtension = 2
)

const (
	headerLen  = 10
	chunkLen   = 64
	maxDataLen = 65536

	// how many messages are read while waiting for the one matching
	// (type, bSeq); mismatches among them are discarded
	maxExpectedReads = 12
	// how many TIME_EXTENSION responses are honored per exchange
	maxTimeExtensions = 30

	// block-waiting-time integer sent with every XfrBlock
	defaultBWI = 0x0a
)
