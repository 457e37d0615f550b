package registration

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrInvalidTokenAddress is returned for addresses that are not 20-byte hex.
var ErrInvalidTokenAddress = errors.New("invalid token address")

// CodeReader is the read-only chain access the checker needs. *ethclient.Client implements it.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// DeploymentChecker reports whether the human finished the handoff, i.e.
// whether contract code exists at the token address. It never signs anything.
type DeploymentChecker struct {
	client CodeReader
}

func NewDeploymentChecker(client CodeReader) *DeploymentChecker {
	return &DeploymentChecker{client: client}
}

// DialDeploymentChecker connects to an RPC endpoint.
func DialDeploymentChecker(ctx context.Context, rpcAddr string) (*DeploymentChecker, error) {
	client, err := ethclient.DialContext(ctx, rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to rpc %s: %w", rpcAddr, err)
	}
	return NewDeploymentChecker(client), nil
}

// IsDeployed reports whether contract code exists at tokenAddress in the latest block.
func (d *DeploymentChecker) IsDeployed(ctx context.Context, tokenAddress string) (bool, error) {
	if !common.IsHexAddress(tokenAddress) {
		return false, fmt.Errorf("%w: %q", ErrInvalidTokenAddress, tokenAddress)
	}

	code, err := d.client.CodeAt(ctx, common.HexToAddress(tokenAddress), nil)
	if err != nil {
		return false, fmt.Errorf("could not read code at %s: %w", tokenAddress, err)
	}
	return len(code) > 0, nil
}
