package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"dex-gocopy/internal/faults"
	"dex-gocopy/internal/observability"
)

// EthClient adapts go-ethereum's ethclient to Conn.
type EthClient struct {
	rpc     *ethclient.Client
	metrics *observability.Metrics
}

func NewEthClient(c *ethclient.Client, metrics *observability.Metrics) *EthClient {
	return &EthClient{rpc: c, metrics: metrics}
}

func (c *EthClient) done(method string, err error) error {
	err = Classify(method, err)
	c.metrics.RPC(method, resultLabel(err))
	return err
}

func (c *EthClient) TransactionByHash(ctx context.Context, hash common.Hash) (*Tx, error) {
	tx, pending, err := c.rpc.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, c.done("eth_getTransactionByHash", nil)
	}
	if err != nil {
		return nil, c.done("eth_getTransactionByHash", err)
	}
	out, err := convertTx(tx, pending)
	if err != nil {
		return nil, c.done("eth_getTransactionByHash", faults.Wrap(faults.Protocol, "recover sender", err))
	}
	return out, c.done("eth_getTransactionByHash", nil)
}

func (c *EthClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, c.done("eth_getTransactionReceipt", nil)
	}
	if err != nil {
		return nil, c.done("eth_getTransactionReceipt", err)
	}
	return r, c.done("eth_getTransactionReceipt", nil)
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	return n, c.done("eth_blockNumber", err)
}

// BlockTransactions skips transactions whose sender cannot be recovered
// (system and deposit transactions on some chains).
func (c *EthClient) BlockTransactions(ctx context.Context, number uint64) ([]*Tx, error) {
	block, err := c.rpc.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, c.done("eth_getBlockByNumber", err)
	}
	out := make([]*Tx, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		converted, err := convertTx(tx, false)
		if err != nil {
			continue
		}
		out = append(out, converted)
	}
	return out, c.done("eth_getBlockByNumber", nil)
}

func (c *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := c.rpc.CallContract(ctx, msg, blockNumber)
	return out, c.done("eth_call", err)
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.rpc.ChainID(ctx)
	return id, c.done("eth_chainId", err)
}

func (c *EthClient) Close() {
	c.rpc.Close()
}

func convertTx(tx *types.Transaction, pending bool) (*Tx, error) {
	var signer types.Signer = types.HomesteadSigner{}
	if id := tx.ChainId(); id != nil && id.Sign() > 0 {
		signer = types.LatestSignerForChainID(id)
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, err
	}
	return &Tx{
		Hash:    tx.Hash(),
		From:    from,
		To:      tx.To(),
		Value:   new(big.Int).Set(tx.Value()),
		Input:   common.CopyBytes(tx.Data()),
		Nonce:   tx.Nonce(),
		Pending: pending,
	}, nil
}
