package registration

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultChainID is BSC testnet.
const DefaultChainID int64 = 97

// Chain is a network tokens can be registered on.
type Chain struct {
	ID      int64
	Key     string
	Name    string
	Testnet bool
}

// Chains lists the supported networks by ID.
var Chains = map[int64]Chain{
	97:       {ID: 97, Key: "bsc", Name: "BSC Testnet", Testnet: true},
	56:       {ID: 56, Key: "bsc-mainnet", Name: "BSC Mainnet"},
	11155111: {ID: 11155111, Key: "eth", Name: "Ethereum Sepolia", Testnet: true},
}

// ChainByKey looks a chain up by its short key, e.g. "bsc" or "eth".
func ChainByKey(key string) (Chain, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, c := range Chains {
		if c.Key == key {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("unknown chain %q, expected one of %s", key, strings.Join(chainKeys(), ", "))
}

// ChainName returns a display name for id.
func ChainName(id int64) string {
	if c, ok := Chains[id]; ok {
		return c.Name
	}
	return fmt.Sprintf("chain %d", id)
}

func chainKeys() []string {
	keys := make([]string, 0, len(Chains))
	for _, c := range Chains {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	return keys
}
