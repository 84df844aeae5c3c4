// Package target describes the code-generation target: pointer width,
// scalar alignments as seen by the language and by the backend, the
// runtime entry points the lowering calls into, and the calling-convention
// classification of arguments.
package target

import (
	"fmt"
	"sort"
)

// RealFormat is the backend representation of the "real" type.
type RealFormat string

const (
	RealX87    RealFormat = "x86_fp80"
	RealDouble RealFormat = "double"
	RealQuad   RealFormat = "fp128"
)

// Target describes the ABI target triple and its data properties.
type Target struct {
	Name       string
	Triple     string
	DataLayout string
	Arch       string // "x86_64", "x86", "aarch64"

	PtrSize  uint32 // bytes
	PtrAlign uint32

	// Alignment of scalars as the language sees them (.alignof).
	Int64Align   uint32
	Float64Align uint32
	RealSize     uint32
	RealAlign    uint32
	RealFormat   RealFormat

	// Backend ABI alignment overrides keyed by IR scalar name ("i64",
	// "double", "x86_fp80"); missing keys fall back to the language value.
	IRAlign map[string]uint32

	// Aggregates larger than this are returned through a hidden pointer
	// and passed as a pointer to a caller-owned copy.
	MaxDirectAggregate uint64

	// Size of an uninitialized critical section record.
	CriticalSectionSize uint64

	Runtime   RuntimeNames
	Interface InterfaceABI
}

// RuntimeNames lists the runtime entry points the lowering calls.
type RuntimeNames struct {
	AllocMemory   string `toml:"alloc_memory"`
	NewClass      string `toml:"new_class"`
	NewArray      string `toml:"new_array"`
	DelMemory     string `toml:"del_memory"`
	CallFinalizer string `toml:"call_finalizer"`
	MonitorEnter  string `toml:"monitor_enter"`
	MonitorExit   string `toml:"monitor_exit"`
	CriticalEnter string `toml:"critical_enter"`
	CriticalExit  string `toml:"critical_exit"`
	Assert        string `toml:"assert"`
	AssertMsg     string `toml:"assert_msg"`
	Personality   string `toml:"personality"`
	DynamicCast   string `toml:"dynamic_cast"`
	InterfaceCast string `toml:"interface_cast"`
}

// InterfaceABI describes how an interface reference leads back to the
// object that implements it. An interface reference points at a vtbl
// pointer slot inside the object; entry InfoSlot of that vtbl points to the
// interface record, whose field at OffsetField holds the slot's byte offset
// from the start of the object.
type InterfaceABI struct {
	InfoSlot    uint32 `toml:"info_slot"`
	OffsetField uint64 `toml:"offset_field"`
}

// DefaultRuntime returns the standard runtime entry point names.
func DefaultRuntime() RuntimeNames {
	return RuntimeNames{
		AllocMemory:   "_d_allocmemory",
		NewClass:      "_d_newclass",
		NewArray:      "_d_newarrayT",
		DelMemory:     "_d_delmemory",
		CallFinalizer: "_d_callfinalizer",
		MonitorEnter:  "_d_monitorenter",
		MonitorExit:   "_d_monitorexit",
		CriticalEnter: "_d_criticalenter",
		CriticalExit:  "_d_criticalexit",
		Assert:        "_d_assert",
		AssertMsg:     "_d_assert_msg",
		Personality:   "_d_eh_personality",
		DynamicCast:   "_d_dynamic_cast",
		InterfaceCast: "_d_interface_cast",
	}
}

func X86_64LinuxGNU() *Target {
	return &Target{
		Name:                "x86_64-linux-gnu",
		Triple:              "x86_64-unknown-linux-gnu",
		DataLayout:          "e-m:e-p270:32:32-p271:32:32-p272:64:64-i64:64-f80:128-n8:16:32:64-S128",
		Arch:                "x86_64",
		PtrSize:             8,
		PtrAlign:            8,
		Int64Align:          8,
		Float64Align:        8,
		RealSize:            16,
		RealAlign:           16,
		RealFormat:          RealX87,
		MaxDirectAggregate:  16,
		CriticalSectionSize: 48,
		Runtime:             DefaultRuntime(),
		Interface:           InterfaceABI{InfoSlot: 0, OffsetField: 24},
	}
}

func I686LinuxGNU() *Target {
	return &Target{
		Name:                "i686-linux-gnu",
		Triple:              "i686-pc-linux-gnu",
		DataLayout:          "e-m:e-p:32:32-p270:32:32-p271:32:32-p272:64:64-i128:128-f64:32:64-f80:32-n8:16:32-S128",
		Arch:                "x86",
		PtrSize:             4,
		PtrAlign:            4,
		Int64Align:          4,
		Float64Align:        4,
		RealSize:            12,
		RealAlign:           4,
		RealFormat:          RealX87,
		IRAlign:             map[string]uint32{"i64": 4, "double": 4},
		MaxDirectAggregate:  8,
		CriticalSectionSize: 28,
		Runtime:             DefaultRuntime(),
		Interface:           InterfaceABI{InfoSlot: 0, OffsetField: 12},
	}
}

func AArch64LinuxGNU() *Target {
	return &Target{
		Name:                "aarch64-linux-gnu",
		Triple:              "aarch64-unknown-linux-gnu",
		DataLayout:          "e-m:e-i8:8:32-i16:16:32-i64:64-i128:128-n32:64-S128",
		Arch:                "aarch64",
		PtrSize:             8,
		PtrAlign:            8,
		Int64Align:          8,
		Float64Align:        8,
		RealSize:            16,
		RealAlign:           16,
		RealFormat:          RealQuad,
		MaxDirectAggregate:  16,
		CriticalSectionSize: 56,
		Runtime:             DefaultRuntime(),
		Interface:           InterfaceABI{InfoSlot: 0, OffsetField: 24},
	}
}

var builtin = map[string]func() *Target{
	"x86_64-linux-gnu":  X86_64LinuxGNU,
	"i686-linux-gnu":    I686LinuxGNU,
	"aarch64-linux-gnu": AArch64LinuxGNU,
}

// Lookup returns a fresh copy of a built-in target.
func Lookup(name string) (*Target, error) {
	mk, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q (known: %v)", name, Names())
	}
	return mk(), nil
}

// Names lists built-in target names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ScalarAlign returns the backend ABI alignment of the IR scalar name,
// or fallback when the target does not override it.
func (t *Target) ScalarAlign(irName string, fallback uint32) uint32 {
	if a, ok := t.IRAlign[irName]; ok && a > 0 {
		return a
	}
	return fallback
}

// Validate checks internal consistency of a loaded description.
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target: missing name")
	}
	if t.PtrSize != 4 && t.PtrSize != 8 {
		return fmt.Errorf("target %s: unsupported pointer size %d", t.Name, t.PtrSize)
	}
	for what, a := range map[string]uint32{
		"ptr_align": t.PtrAlign, "int64_align": t.Int64Align,
		"float64_align": t.Float64Align, "real_align": t.RealAlign,
	} {
		if a == 0 || a&(a-1) != 0 {
			return fmt.Errorf("target %s: %s must be a power of two, got %d", t.Name, what, a)
		}
	}
	switch t.RealFormat {
	case RealX87, RealDouble, RealQuad:
	default:
		return fmt.Errorf("target %s: unknown real format %q", t.Name, t.RealFormat)
	}
	if t.Runtime.Personality == "" || t.Runtime.AllocMemory == "" {
		return fmt.Errorf("target %s: runtime entry points are incomplete", t.Name)
	}
	return nil
}
