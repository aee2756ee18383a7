package evm

import (
	"fmt"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"strings"
)

const erc20JSON = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const poolJSON = `[
 {"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"event","name":"PairCreated","anonymous":false,"inputs":[
  {"name":"token0","type":"address","indexed":true},
  {"name":"token1","type":"address","indexed":true},
  {"name":"pair","type":"address","indexed":false},
  {"name":"","type":"uint256","indexed":false}]},
 {"type":"event","name":"PoolCreated","anonymous":false,"inputs":[
  {"name":"token0","type":"address","indexed":true},
  {"name":"token1","type":"address","indexed":true},
  {"name":"fee","type":"uint24","indexed":true},
  {"name":"tickSpacing","type":"int24","indexed":false},
  {"name":"pool","type":"address","indexed":false}]},
 {"type":"event","name":"SwapV2","anonymous":false,"inputs":[
  {"name":"sender","type":"address","indexed":true},
  {"name":"amount0In","type":"uint256","indexed":false},
  {"name":"amount1In","type":"uint256","indexed":false},
  {"name":"amount0Out","type":"uint256","indexed":false},
  {"name":"amount1Out","type":"uint256","indexed":false},
  {"name":"to","type":"address","indexed":true}]},
 {"type":"event","name":"SwapV3","anonymous":false,"inputs":[
  {"name":"sender","type":"address","indexed":true},
  {"name":"recipient","type":"address","indexed":true},
  {"name":"amount0","type":"int256","indexed":false},
  {"name":"amount1","type":"int256","indexed":false},
  {"name":"sqrtPriceX96","type":"uint160","indexed":false},
  {"name":"liquidity","type":"uint128","indexed":false},
  {"name":"tick","type":"int24","indexed":false}]}
]`

var (
	erc20ABI = mustParseABI(erc20JSON)
	poolABI  = mustParseABI(poolJSON)

	// 事件签名以链上真实名字计算，SwapV2 / SwapV3 只是 ABI 里的别名
	topicPairCreated = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
	topicPoolCreated = crypto.Keccak256Hash([]byte("PoolCreated(address,address,uint24,int24,address)"))
	topicSwapV2      = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	topicSwapV3      = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}
