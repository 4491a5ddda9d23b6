package chainrpc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// transferSelector is the 4-byte selector of transfer(address,uint256).
var transferSelector = ethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const transferGasLimit = 120000

// EVMBackend implements Backend against a JSON-RPC EVM node.
type EVMBackend struct {
	client        *ethclient.Client
	chainID       *big.Int
	contract      common.Address
	tokenDecimals int32
}

// DialEVM connects to the node and pins the chain ID and token contract.
// tokenDecimals is the token's on-chain decimal count; values are normalized
// to the canonical six-decimal scale at the boundary.
func DialEVM(ctx context.Context, url, contract string, tokenDecimals int32) (*EVMBackend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial evm node: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chainrpc: chain id: %w", err)
	}
	if !common.IsHexAddress(contract) {
		client.Close()
		return nil, fmt.Errorf("chainrpc: bad contract address %q", contract)
	}
	return &EVMBackend{
		client:        client,
		chainID:       chainID,
		contract:      common.HexToAddress(contract),
		tokenDecimals: tokenDecimals,
	}, nil
}

// Close releases the RPC connection.
func (b *EVMBackend) Close() {
	b.client.Close()
}

func (b *EVMBackend) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	head, err := b.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chainrpc: block number: %w", err)
	}
	return head, nil
}

func (b *EVMBackend) TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	logs, err := b.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{b.contract},
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: filter logs: %w", err)
	}
	events := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) != 3 || lg.Removed {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		events = append(events, TransferEvent{
			TxHash:      lg.TxHash.Hex(),
			Block:       lg.BlockNumber,
			LogIndex:    lg.Index,
			From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			To:          common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			AmountMicro: toMicro(amount, b.tokenDecimals),
		})
	}
	return events, nil
}

func (b *EVMBackend) TransferToken(ctx context.Context, key *ecdsa.PrivateKey, to string, amountMicro int64) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("chainrpc: bad recipient %q", to)
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	from := ethcrypto.PubkeyToAddress(key.PublicKey)
	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chainrpc: pending nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chainrpc: gas price: %w", err)
	}

	data := packTransfer(common.HexToAddress(to), fromMicro(amountMicro, b.tokenDecimals))
	tx := types.NewTransaction(nonce, b.contract, big.NewInt(0), transferGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), key)
	if err != nil {
		return "", fmt.Errorf("chainrpc: sign tx: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chainrpc: send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// packTransfer builds the calldata for transfer(address,uint256).
func packTransfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// toMicro scales an on-chain amount down to six decimals, truncating dust.
func toMicro(amount *big.Int, decimals int32) int64 {
	v := new(big.Int).Set(amount)
	if decimals > 6 {
		v.Div(v, pow10(decimals-6))
	} else if decimals < 6 {
		v.Mul(v, pow10(6-decimals))
	}
	return v.Int64()
}

// fromMicro scales a six-decimal amount up to on-chain units.
func fromMicro(micro int64, decimals int32) *big.Int {
	v := big.NewInt(micro)
	if decimals > 6 {
		v.Mul(v, pow10(decimals-6))
	} else if decimals < 6 {
		v.Div(v, pow10(6-decimals))
	}
	return v
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
