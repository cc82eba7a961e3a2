package swapparse

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dex-gocopy/internal/ethutil"
)

var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

type transfer struct {
	token common.Address
	from  common.Address
	to    common.Address
	value *big.Int
}

// transferLedger holds a receipt's ERC-20 Transfer logs in log order. Each
// transfer backs at most one resolved amount, so repeated tokens across legs
// of a batch resolve to distinct logs.
type transferLedger struct {
	transfers []transfer
	used      []bool
}

func newTransferLedger(logs []*types.Log) *transferLedger {
	l := &transferLedger{}
	for _, lg := range logs {
		// ERC-721 shares the topic but indexes the token id as a fourth topic.
		if lg == nil || len(lg.Topics) != 3 || lg.Topics[0] != erc20TransferTopic || len(lg.Data) < 32 {
			continue
		}
		l.transfers = append(l.transfers, transfer{
			token: lg.Address,
			from:  ethutil.TopicToAddress(lg.Topics[1]),
			to:    ethutil.TopicToAddress(lg.Topics[2]),
			value: new(big.Int).SetBytes(lg.Data[:32]),
		})
	}
	l.used = make([]bool, len(l.transfers))
	return l
}

// received claims the first unclaimed transfer of token to recipient.
func (l *transferLedger) received(token, recipient common.Address) (*big.Int, bool) {
	return l.claim(func(t transfer) bool { return t.token == token && t.to == recipient })
}

// paid claims the first unclaimed transfer of token from sender.
func (l *transferLedger) paid(token, sender common.Address) (*big.Int, bool) {
	return l.claim(func(t transfer) bool { return t.token == token && t.from == sender })
}

func (l *transferLedger) claim(match func(transfer) bool) (*big.Int, bool) {
	for i, t := range l.transfers {
		if l.used[i] || !match(t) {
			continue
		}
		l.used[i] = true
		return new(big.Int).Set(t.value), true
	}
	return nil, false
}
