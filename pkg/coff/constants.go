package coff

// Machine types accepted in object file headers.
const (
	MachineI386  uint16 = 0x014c
	MachineAMD64 uint16 = 0x8664
)

// On-disk record sizes.
const (
	headerSize        = 20
	bigObjHeaderSize  = 56
	sectionHeaderSize = 40
	symbolSize        = 18
	bigObjSymbolSize  = 20
	relocationSize    = 10
	stringTableLength = 4
)

// Symbol section numbers with a special meaning.
const (
	SymUndefined int32 = 0
	SymAbsolute  int32 = -1
	SymDebug     int32 = -2
)

// Symbol type and storage class values.
const (
	SymTypeNull     uint16 = 0
	SymTypeFunction uint16 = 0x20

	SymClassExternal     uint8 = 2
	SymClassStatic       uint8 = 3
	SymClassWeakExternal uint8 = 105
)

// COMDAT selection values found in section definition auxiliary records.
const (
	ComdatSelectNoDuplicates uint8 = 1
	ComdatSelectAny          uint8 = 2
	ComdatSelectSameSize     uint8 = 3
	ComdatSelectExactMatch   uint8 = 4
	ComdatSelectAssociative  uint8 = 5
	ComdatSelectLargest      uint8 = 6
)

// Section characteristics.
const (
	SectionCntCode          uint32 = 0x00000020
	SectionCntInitialized   uint32 = 0x00000040
	SectionCntUninitialized uint32 = 0x00000080
	SectionLnkInfo          uint32 = 0x00000200
	SectionLnkRemove        uint32 = 0x00000800
	SectionLnkComdat        uint32 = 0x00001000
	SectionAlign1Bytes      uint32 = 0x00100000
	SectionAlign16Bytes     uint32 = 0x00500000
	SectionMemExecute       uint32 = 0x20000000
	SectionMemRead          uint32 = 0x40000000
	SectionMemWrite         uint32 = 0x80000000
)

// RelI386Dir32NB is the 32-bit image-base relative relocation used by the
// synthesized reference objects.
const RelI386Dir32NB uint16 = 0x0007

// Weak external characteristics.
const (
	WeakExternNoLibrary     uint32 = 1
	WeakExternSearchLibrary uint32 = 2
	WeakExternSearchAlias   uint32 = 3
)

// bigObjClassID identifies the ANON_OBJECT_HEADER_BIGOBJ layout.
var bigObjClassID = [16]byte{
	0xc7, 0xa1, 0xba, 0xd1, 0xee, 0xba, 0xa9, 0x4b,
	0xaf, 0x20, 0xfa, 0xf6, 0x6a, 0xa4, 0xdc, 0xb8,
}

// BigObjClassID returns a copy of the class identifier that marks an
// extended ("bigobj") object file header.
func BigObjClassID() [16]byte {
	return bigObjClassID
}

func isKnownMachine(m uint16) bool {
	return m == MachineI386 || m == MachineAMD64
}
