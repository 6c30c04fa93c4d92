package evm

import (
	"fmt"
	"strings"

	"github.com/erpc/contractreads/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/afero"
)

// CallsFromConfig builds call descriptors out of configured contracts. Calls whose abi or function
// cannot be resolved are returned incomplete, so that they keep the read disabled instead of failing it.
func CallsFromConfig(fs afero.Fs, contracts []*common.ContractCallConfig) ([]CallDescriptor, error) {
	abis := map[string]*abi.ABI{}
	out := make([]CallDescriptor, len(contracts))
	for i, c := range contracts {
		call := CallDescriptor{
			FunctionName: c.FunctionName,
			ChainId:      c.ChainId,
			Args:         c.Args,
		}
		if c.Address != "" {
			call.Address = gethcommon.HexToAddress(c.Address)
		}

		source := c.Abi
		if source == "" && c.AbiFile != "" {
			data, err := afero.ReadFile(fs, c.AbiFile)
			if err != nil {
				return nil, fmt.Errorf("contracts[%d]: failed to read abi file: %w", i, err)
			}
			source = string(data)
		}
		if source != "" {
			parsed, ok := abis[source]
			if !ok {
				p, err := abi.JSON(strings.NewReader(source))
				if err != nil {
					return nil, fmt.Errorf("contracts[%d]: invalid abi: %w", i, err)
				}
				parsed = &p
				abis[source] = parsed
			}
			call.Abi = parsed
		}

		if call.Abi != nil && c.FunctionName != "" {
			method, err := call.Method()
			if err != nil {
				return nil, fmt.Errorf("contracts[%d]: %w", i, err)
			}
			args, err := CoerceArgs(method, c.Args)
			if err != nil {
				return nil, fmt.Errorf("contracts[%d]: %w", i, err)
			}
			call.Args = args
		}
		out[i] = call
	}
	return out, nil
}
