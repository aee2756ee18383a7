package solana

import (
	"context"
	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
)

// SignatureInfo 程序地址上的一条交易签名
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime int64
	Failed    bool
}

// TokenBalance 交易结束后的代币账户余额
type TokenBalance struct {
	Account  string // 代币账户地址
	Mint     string
	Owner    string
	Amount   uint64
	Decimals uint8
}

// Transaction 解析所需的交易字段
type Transaction struct {
	Signature     string
	Slot          uint64
	BlockTime     int64
	Accounts      []string
	Logs          []string
	PreBalances   []int64
	PostBalances  []int64
	TokenBalances []TokenBalance
	Failed        bool
}

type Account struct {
	Lamports uint64
	Owner    string
	Data     []byte
}

// RPC Solana 扫描所需的调用子集
type RPC interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetBlockTime(ctx context.Context, slot uint64) (int64, error)
	GetSignatures(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
	GetMultipleAccounts(ctx context.Context, addrs []string) ([]Account, error)
}

type bloctoRPC struct {
	cli *client.Client
}

func NewBloctoRPC(endpoint string) RPC {
	return &bloctoRPC{cli: client.NewClient(endpoint)}
}

func (r *bloctoRPC) GetSlot(ctx context.Context) (uint64, error) {
	return r.cli.GetSlot(ctx)
}

func (r *bloctoRPC) GetBlockTime(ctx context.Context, slot uint64) (int64, error) {
	t, err := r.cli.GetBlockTime(ctx, slot)
	if err != nil || t == nil {
		return 0, err
	}
	return *t, nil
}

func (r *bloctoRPC) GetSignatures(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error) {
	res, err := r.cli.GetSignaturesForAddressWithConfig(ctx, address, client.GetSignaturesForAddressConfig{
		Limit:      limit,
		Until:      until,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SignatureInfo, 0, len(res))
	for _, s := range res {
		info := SignatureInfo{Signature: s.Signature, Slot: s.Slot, Failed: s.Err != nil}
		if s.BlockTime != nil {
			info.BlockTime = *s.BlockTime
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *bloctoRPC) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	tx, err := r.cli.GetTransaction(ctx, signature)
	if err != nil || tx == nil {
		return nil, err
	}

	out := &Transaction{Signature: signature, Slot: tx.Slot}
	if tx.BlockTime != nil {
		out.BlockTime = *tx.BlockTime
	}
	out.Accounts = make([]string, 0, len(tx.Transaction.Message.Accounts))
	for _, k := range tx.Transaction.Message.Accounts {
		out.Accounts = append(out.Accounts, k.ToBase58())
	}
	if tx.Meta == nil {
		return out, nil
	}

	out.Failed = tx.Meta.Err != nil
	out.Logs = tx.Meta.LogMessages
	out.PreBalances = tx.Meta.PreBalances
	out.PostBalances = tx.Meta.PostBalances
	for _, b := range tx.Meta.PostTokenBalances {
		tb := TokenBalance{
			Mint:     b.Mint,
			Owner:    b.Owner,
			Decimals: b.UITokenAmount.Decimals,
			Amount:   parseAmount(b.UITokenAmount.Amount),
		}
		if int(b.AccountIndex) < len(out.Accounts) {
			tb.Account = out.Accounts[b.AccountIndex]
		}
		out.TokenBalances = append(out.TokenBalances, tb)
	}
	return out, nil
}

func (r *bloctoRPC) GetMultipleAccounts(ctx context.Context, addrs []string) ([]Account, error) {
	infos, err := r.cli.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, err
	}
	out := make([]Account, len(infos))
	for i, info := range infos {
		out[i] = Account{
			Lamports: info.Lamports,
			Owner:    info.Owner.ToBase58(),
			Data:     info.Data,
		}
	}
	return out, nil
}
