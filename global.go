package rill

// GlobalState is shared by every thread spawned from one VM instance
// (spec §3's "Global state"). It is never a singleton: each *VM owns
// exactly one, and host applications may instantiate many VMs side by
// side with no shared mutable state between them.
type GlobalState struct {
	Config *Config

	strings *stringTable
	mem     *memAccountant
	gc      *gcState

	typeMetatables [8]*Table // indexed by Kind

	mainThread *Thread

	registry *Table // pseudo-index "registry" for host code
	globals  *Table // the one globals table shared by every chunk run on this VM
}

func newGlobalState(cfg *Config) *GlobalState {
	g := &GlobalState{
		Config:   cfg,
		strings:  newStringTable(),
		registry: NewTable(0, 0),
		globals:  NewTable(0, 0),
	}
	g.mem = newMemAccountant(g, cfg)
	g.gc = newGCState(g)
	return g
}

func (g *GlobalState) intern(s string) *Str {
	return g.strings.intern([]byte(s))
}

// Intern exposes string interning to host code (HostFunc
// implementations and embedders), which otherwise have no way to
// build a *Str to hand to NewValueString.
func (g *GlobalState) Intern(s string) *Str {
	return g.intern(s)
}

// Globals returns the table every chunk run on this VM sees as its
// environment: one per VM instance, not one per Run call, so bindings
// made by one chunk (or the REPL's previous line) persist to the next.
func (g *GlobalState) Globals() *Table {
	return g.globals
}

func (g *GlobalState) GetTypeMetatable(k Kind) *Table {
	return g.typeMetatables[k]
}

func (g *GlobalState) SetTypeMetatable(k Kind, t *Table) {
	g.typeMetatables[k] = t
}
