package common

import (
	"github.com/bytedance/sonic"
)

// SonicCfg is used for wire payloads (json-rpc bodies, persisted entries).
var SonicCfg sonic.API

// SonicCanonicalCfg sorts map keys so equal values always encode to equal bytes.
var SonicCanonicalCfg sonic.API

func init() {
	SonicCfg = sonic.Config{
		CopyString:           false,
		NoQuoteTextMarshaler: true,
		EscapeHTML:           false,
		SortMapKeys:          false,
		CompactMarshaler:     true,
		ValidateString:       false,
	}.Froze()
	SonicCanonicalCfg = sonic.Config{
		EscapeHTML:       false,
		SortMapKeys:      true,
		CompactMarshaler: true,
	}.Froze()
}
