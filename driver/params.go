package driver

// Well known word indices.  Frame record indices are below Layout.GlobalsBase,
// global indices are given relative to the start of the global table.
const (
	PSensor        = 1
	PSensorRun     = 4
	PCompressorRun = 5
	PBayer         = 6
	PTrig          = 7
	PColor         = 12
	PWOILeft       = 16
	PWOITop        = 17
	PWOIWidth      = 18
	PWOIHeight     = 19
	PQuality       = 40
	PFP1000SLim    = 44
	PAutoExpOn     = 56
	PDaemonEn      = 60

	// preserved in retired records (SaveFrom = 128, SaveNum = 32)
	PFrame    = 128
	PExpos    = 129
	PGainR    = 130
	PGainG    = 131
	PGainB    = 132
	PGainGB   = 133
	PGtabR    = 134 // P_GTAB_G, P_GTAB_GB and P_GTAB_B follow in color order
	PGtabG    = 135
	PGtabGB   = 136
	PGtabB    = 137
	PFrameTim = 138

	// per sub-channel banks, MaxSubChannels words each
	PMultiGainR  = 384
	PMultiGainG  = 388
	PMultiGainB  = 392
	PMultiGainGB = 396
	PMultiExpos  = 400
	PMultiWOI    = 404
)

// MaxSubChannels is the width of a per sub-channel bank
const MaxSubChannels = 4

// Global table indices
const (
	GThisFrame       = 0
	GCompressorFrame = 1
	GSeconds         = 2
	GMicroseconds    = 3
	GDebug           = 4
	GTemperature     = 5
	GSubChannels     = 6
)

// Sensor and compressor run states
const (
	SensorRunStop   = 0
	SensorRunSingle = 1
	SensorRunCont   = 2

	CompressorRunStop   = 0
	CompressorRunSingle = 1
	CompressorRunCont   = 2
)

// CommandBase is the first base index of the command space.  Base indices
// 0xff00..0xffff are driver directives, never parameters.
const CommandBase = 0xff00

// Directives
const (
	// CmdSetFrame retargets the following pairs to the frame in its data word
	CmdSetFrame = 0xff00

	// CmdSetFrameRel is CmdSetFrame relative to the current frame
	CmdSetFrameRel = 0xff01
)

// Write flags, upper half word of an address
const (
	FlagForceNew     = 0x80000000
	FlagForceProc    = 0x40000000
	FlagForceNewProc = FlagForceNew | FlagForceProc
	FlagJustThis     = 0x20000000
	FlagNoNew        = 0x10000000
)

// FrameMax is the largest frame that can be waited for
const FrameMax = 0x7ffffdff
