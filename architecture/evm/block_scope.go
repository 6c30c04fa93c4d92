package evm

// BlockScope selects which block a batch is read at. The three constructors are mutually
// exclusive; a config holds at most one BlockScope.
type BlockScope interface {
	blockScope()
}

type blockNumberScope struct{ number uint64 }

type blockTagScope struct{ tag string }

type watchScope struct{ watch bool }

func (blockNumberScope) blockScope() {}
func (blockTagScope) blockScope()    {}
func (watchScope) blockScope()       {}

// AtBlockNumber reads at a fixed block. Zero means "not provided".
func AtBlockNumber(n uint64) BlockScope {
	return blockNumberScope{number: n}
}

// AtBlockTag reads at a named block such as "safe" or "finalized".
func AtBlockTag(tag string) BlockScope {
	return blockTagScope{tag: tag}
}

// Watch reads at the latest block and, when on, refreshes on every new block.
func Watch(on bool) BlockScope {
	return watchScope{watch: on}
}

// ScopeBlockNumber returns the fixed block number of s, or zero.
func ScopeBlockNumber(s BlockScope) uint64 {
	if b, ok := s.(blockNumberScope); ok {
		return b.number
	}
	return 0
}

// ScopeBlockTag returns the block tag of s, or "".
func ScopeBlockTag(s BlockScope) string {
	if b, ok := s.(blockTagScope); ok {
		return b.tag
	}
	return ""
}

// ScopeWatch reports whether s is Watch(true).
func ScopeWatch(s BlockScope) bool {
	if w, ok := s.(watchScope); ok {
		return w.watch
	}
	return false
}
