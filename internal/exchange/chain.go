// chain.go reads balances straight from Polygon.
//
// Merges settle on chain, so the merge path cannot trust the data API's
// position sizes: it re-reads the ERC-1155 balance of each outcome token
// right before merging and uses the smaller raw amount. The USDC read backs
// balance logging and sanity checks.
package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/config"
)

// Polygon mainnet contract addresses.
const (
	conditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	usdcAddress              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

const erc1155BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"id","type":"uint256"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const chainCallTimeout = 10 * time.Second

// Chain reads outcome-token and collateral balances from Polygon.
type Chain struct {
	eth     *ethclient.Client
	erc1155 abi.ABI
	erc20   abi.ABI
	ctf     common.Address
	usdc    common.Address
	owner   common.Address
}

// NewChain dials the RPC endpoint and prepares the contract ABIs.
// owner is the funder wallet whose balances are read.
func NewChain(cfg config.Config, owner common.Address) (*Chain, error) {
	eth, err := ethclient.Dial(cfg.API.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	erc1155, err := abi.JSON(strings.NewReader(erc1155BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc1155 abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &Chain{
		eth:     eth,
		erc1155: erc1155,
		erc20:   erc20,
		ctf:     common.HexToAddress(conditionalTokensAddress),
		usdc:    common.HexToAddress(usdcAddress),
		owner:   owner,
	}, nil
}

// Close releases the RPC connection.
func (c *Chain) Close() {
	c.eth.Close()
}

// RawPosition returns the raw 6-decimal balance of one outcome token.
func (c *Chain) RawPosition(ctx context.Context, tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	data, err := c.erc1155.Pack("balanceOf", c.owner, id)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.call(ctx, c.ctf, data)
	if err != nil {
		return nil, fmt.Errorf("token balance: %w", err)
	}

	vals, err := c.erc1155.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// Shares converts the raw balance of a token to decimal shares. Balances
// below one share are dust left behind by rounding and read as zero.
func (c *Chain) Shares(ctx context.Context, tokenID string) (*big.Int, decimal.Decimal, error) {
	raw, err := c.RawPosition(ctx, tokenID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	shares := decimal.NewFromBigInt(raw, -6)
	if shares.LessThan(decimal.NewFromInt(1)) {
		shares = decimal.Zero
	}
	return raw, shares, nil
}

// USDCBalance returns the owner's collateral balance in whole USDC.
func (c *Chain) USDCBalance(ctx context.Context) (decimal.Decimal, error) {
	data, err := c.erc20.Pack("balanceOf", c.owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.call(ctx, c.usdc, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usdc balance: %w", err)
	}

	vals, err := c.erc20.Unpack("balanceOf", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return decimal.NewFromBigInt(vals[0].(*big.Int), -6), nil
}

func (c *Chain) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, chainCallTimeout)
	defer cancel()
	return c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
