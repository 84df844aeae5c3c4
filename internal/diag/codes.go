package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Ввод/вывод
	IOInfo            Code = 4000
	IOLoadFileError   Code = 4001
	IODecodeAST       Code = 4002
	IOWriteOutput     Code = 4003
	IOCacheCorrupted  Code = 4004
	IOUnsupportedFile Code = 4005

	// Конфигурация проекта и цели
	PrjInfo            Code = 5000
	PrjManifestInvalid Code = 5001
	PrjUnknownTarget   Code = 5002
	PrjTargetInvalid   Code = 5003

	// Наблюдаемость
	ObsInfo    Code = 6000
	ObsTimings Code = 6001

	// Понижение в IR
	LowInfo               Code = 7000
	LowInvalidControlFlow Code = 7001
	LowLinkageConflict    Code = 7002
	LowUnsupportedNode    Code = 7003
	LowUnresolvedSymbol   Code = 7004
)

var (
	codeDescription = map[Code]string{
		UnknownCode:           "Unknown error",
		IOInfo:                "I/O information",
		IOLoadFileError:       "Could not load input file",
		IODecodeAST:           "Malformed AST module",
		IOWriteOutput:         "Could not write output",
		IOCacheCorrupted:      "Cache entry is corrupted",
		IOUnsupportedFile:     "Unsupported input file",
		PrjInfo:               "Project information",
		PrjManifestInvalid:    "Invalid project manifest",
		PrjUnknownTarget:      "Unknown target",
		PrjTargetInvalid:      "Invalid target description",
		ObsInfo:               "Observability information",
		ObsTimings:            "Pipeline timings",
		LowInfo:               "Lowering information",
		LowInvalidControlFlow: "Invalid control flow",
		LowLinkageConflict:    "Conflicting declarations for symbol",
		LowUnsupportedNode:    "Construct cannot be lowered",
		LowUnresolvedSymbol:   "Reference to an unknown declaration",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("PRJ%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	case ic >= 7000 && ic < 8000:
		return fmt.Sprintf("LOW%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
