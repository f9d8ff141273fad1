package rill

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// Config holds the VM-wide tunables and loader flags. It follows the
// teacher's typed string-keyed map design (Set*/Get* with a panic on
// type mismatch) so new tunables can be added without breaking the
// public API, but it also exposes the handful of settings every VM
// instance needs as plain fields, since those are read on every GC
// step and every metamethod chain walk.
type Config struct {
	// GCPause sets the next cycle's trigger as a percentage of the
	// memory in use when the last cycle finished (200 == wait until
	// memory doubles; values below 100 count as 100).
	GCPause int

	// GCStepMul is the most gray objects one incremental GC step marks;
	// it does not depend on how many bytes were allocated.
	GCStepMul int

	// MaxCCallDepth bounds re-entrant host/VM nesting (§5 Reentrancy).
	MaxCCallDepth int

	// IndexChainLimit bounds __index/__newindex metamethod chain
	// walks (§4.5, Open Question in §9).
	IndexChainLimit int

	// IntegerSubtype is loaded from the config file and kept here, but
	// nothing else reads it: numbers hash, key-compare and dump as plain
	// float64 whatever its value (§9 Open Question). The dump header's
	// integer flag comes from DumpOptions.IntegerSubtype instead.
	IntegerSubtype bool

	ext map[string]*cfgVal
}

// NewConfig returns a Config primed with the defaults used throughout
// this implementation.
func NewConfig() *Config {
	return &Config{
		GCPause:         200,
		GCStepMul:       200,
		MaxCCallDepth:   200,
		IndexChainLimit: 200,
		IntegerSubtype:  false,
		ext:             map[string]*cfgVal{},
	}
}

// LoadConfigFile reads VM tunables from a TOML file, overlaying them
// on top of NewConfig's defaults. This is an optional embedding
// convenience; the typed fields above remain the primary interface.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newFileError("can't read config file %s: %s", path, err)
	}
	cfg := NewConfig()
	var wire struct {
		GC struct {
			Pause   int `toml:"pause"`
			StepMul int `toml:"step_mul"`
		} `toml:"gc"`
		Runtime struct {
			MaxCCallDepth   int  `toml:"max_c_call_depth"`
			IndexChainLimit int  `toml:"index_chain_limit"`
			IntegerSubtype  bool `toml:"integer_subtype"`
		} `toml:"runtime"`
	}
	if err := toml.Unmarshal(data, &wire); err != nil {
		return nil, newFileError("can't parse config file %s: %s", path, err)
	}
	if wire.GC.Pause != 0 {
		cfg.GCPause = wire.GC.Pause
	}
	if wire.GC.StepMul != 0 {
		cfg.GCStepMul = wire.GC.StepMul
	}
	if wire.Runtime.MaxCCallDepth != 0 {
		cfg.MaxCCallDepth = wire.Runtime.MaxCCallDepth
	}
	if wire.Runtime.IndexChainLimit != 0 {
		cfg.IndexChainLimit = wire.Runtime.IndexChainLimit
	}
	cfg.IntegerSubtype = wire.Runtime.IntegerSubtype
	return cfg, nil
}

// ---- extension settings: typed dynamic map, teacher's Config shape ----

type cfgValType int

const (
	cfgValType_Undefined cfgValType = iota
	cfgValType_Bool
	cfgValType_Int
	cfgValType_String
)

func (vt cfgValType) String() string {
	return map[cfgValType]string{
		cfgValType_Undefined: "undefined",
		cfgValType_Bool:      "bool",
		cfgValType_Int:       "int",
		cfgValType_String:    "string",
	}[vt]
}

type cfgVal struct {
	typ      cfgValType
	asBool   bool
	asInt    int
	asString string
}

func (v *cfgVal) checkType(vt cfgValType) {
	if v.typ != vt {
		panic(fmt.Sprintf("can't retrieve `%s` from `%s` setting", vt, v.typ))
	}
}

func (c *Config) SetBool(path string, v bool) {
	c.ext[path] = &cfgVal{typ: cfgValType_Bool, asBool: v}
}

func (c *Config) SetInt(path string, v int) {
	c.ext[path] = &cfgVal{typ: cfgValType_Int, asInt: v}
}

func (c *Config) SetString(path string, v string) {
	c.ext[path] = &cfgVal{typ: cfgValType_String, asString: v}
}

func (c *Config) GetBool(path string) bool {
	if val, ok := c.ext[path]; ok {
		val.checkType(cfgValType_Bool)
		return val.asBool
	}
	panic(fmt.Sprintf("bool setting `%s` does not exist", path))
}

func (c *Config) GetInt(path string) int {
	if val, ok := c.ext[path]; ok {
		val.checkType(cfgValType_Int)
		return val.asInt
	}
	panic(fmt.Sprintf("int setting `%s` does not exist", path))
}

func (c *Config) GetString(path string) string {
	if val, ok := c.ext[path]; ok {
		val.checkType(cfgValType_String)
		return val.asString
	}
	panic(fmt.Sprintf("string setting `%s` does not exist", path))
}
