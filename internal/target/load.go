package target

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type targetFile struct {
	Base   string `toml:"base"`
	Target struct {
		Name                string            `toml:"name"`
		Triple              string            `toml:"triple"`
		DataLayout          string            `toml:"data_layout"`
		Arch                string            `toml:"arch"`
		PtrSize             uint32            `toml:"ptr_size"`
		PtrAlign            uint32            `toml:"ptr_align"`
		Int64Align          uint32            `toml:"int64_align"`
		Float64Align        uint32            `toml:"float64_align"`
		RealSize            uint32            `toml:"real_size"`
		RealAlign           uint32            `toml:"real_align"`
		RealFormat          string            `toml:"real_format"`
		IRAlign             map[string]uint32 `toml:"ir_align"`
		MaxDirectAggregate  uint64            `toml:"max_direct_aggregate"`
		CriticalSectionSize uint64            `toml:"critical_section_size"`
	} `toml:"target"`
	Runtime   RuntimeNames `toml:"runtime"`
	Interface InterfaceABI `toml:"interface"`
}

// Load reads a target description. A file may name a built-in "base" and
// override only the keys it defines.
func Load(path string) (*Target, error) {
	var f targetFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", path, err)
	}
	t := &Target{Runtime: DefaultRuntime()}
	if f.Base != "" {
		if t, err = Lookup(f.Base); err != nil {
			return nil, fmt.Errorf("target %s: %w", path, err)
		}
	}
	set := func(key string, apply func()) {
		if meta.IsDefined(append([]string{"target"}, key)...) {
			apply()
		}
	}
	tf := f.Target
	set("name", func() { t.Name = tf.Name })
	set("triple", func() { t.Triple = tf.Triple })
	set("data_layout", func() { t.DataLayout = tf.DataLayout })
	set("arch", func() { t.Arch = tf.Arch })
	set("ptr_size", func() { t.PtrSize = tf.PtrSize })
	set("ptr_align", func() { t.PtrAlign = tf.PtrAlign })
	set("int64_align", func() { t.Int64Align = tf.Int64Align })
	set("float64_align", func() { t.Float64Align = tf.Float64Align })
	set("real_size", func() { t.RealSize = tf.RealSize })
	set("real_align", func() { t.RealAlign = tf.RealAlign })
	set("real_format", func() { t.RealFormat = RealFormat(tf.RealFormat) })
	set("max_direct_aggregate", func() { t.MaxDirectAggregate = tf.MaxDirectAggregate })
	set("critical_section_size", func() { t.CriticalSectionSize = tf.CriticalSectionSize })
	if meta.IsDefined("target", "ir_align") {
		if t.IRAlign == nil {
			t.IRAlign = make(map[string]uint32, len(tf.IRAlign))
		}
		for k, v := range tf.IRAlign {
			t.IRAlign[k] = v
		}
	}
	mergeRuntime(&t.Runtime, f.Runtime)
	if meta.IsDefined("interface", "info_slot") {
		t.Interface.InfoSlot = f.Interface.InfoSlot
	}
	if meta.IsDefined("interface", "offset_field") {
		t.Interface.OffsetField = f.Interface.OffsetField
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func mergeRuntime(dst *RuntimeNames, src RuntimeNames) {
	pairs := []struct {
		dst *string
		src string
	}{
		{&dst.AllocMemory, src.AllocMemory},
		{&dst.NewClass, src.NewClass},
		{&dst.NewArray, src.NewArray},
		{&dst.DelMemory, src.DelMemory},
		{&dst.CallFinalizer, src.CallFinalizer},
		{&dst.MonitorEnter, src.MonitorEnter},
		{&dst.MonitorExit, src.MonitorExit},
		{&dst.CriticalEnter, src.CriticalEnter},
		{&dst.CriticalExit, src.CriticalExit},
		{&dst.Assert, src.Assert},
		{&dst.AssertMsg, src.AssertMsg},
		{&dst.Personality, src.Personality},
		{&dst.DynamicCast, src.DynamicCast},
		{&dst.InterfaceCast, src.InterfaceCast},
	}
	for _, p := range pairs {
		if p.src != "" {
			*p.dst = p.src
		}
	}
}
