package solana

import (
	"dex-pool-sentinel/internal/sentinel/types"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// SPL Mint 账户布局：
// 0-3   mintAuthorityOption (u32)
// 4-35  mintAuthority
// 36-43 supply (u64 LE)
// 44    decimals
// 45    isInitialized
// 46-49 freezeAuthorityOption (u32)
// 50-81 freezeAuthority
const (
	mintAccountLen = 82

	// SPL Token 账户布局：mint(32) owner(32) amount(u64 LE)
	tokenAccountMinLen = 72
)

var errShortAccount = errors.New("account data too short")

type mintInfo struct {
	Supply          uint64
	Decimals        uint8
	MintAuthority   bool
	FreezeAuthority bool
}

func parseMint(data []byte) (mintInfo, error) {
	if len(data) < mintAccountLen {
		return mintInfo{}, errShortAccount
	}
	return mintInfo{
		MintAuthority:   binary.LittleEndian.Uint32(data[0:4]) == 1,
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		FreezeAuthority: binary.LittleEndian.Uint32(data[46:50]) == 1,
	}, nil
}

type tokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

func parseTokenAccount(data []byte) (tokenAccount, error) {
	if len(data) < tokenAccountMinLen {
		return tokenAccount{}, errShortAccount
	}
	mint, _ := types.PubkeyFromBytes(data[0:32])
	owner, _ := types.PubkeyFromBytes(data[32:64])
	return tokenAccount{
		Mint:   mint.String(),
		Owner:  owner.String(),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// Metaplex Metadata 布局：key(1) updateAuthority(32) mint(32) name(borsh string) symbol(borsh string) ...
const metadataNameOffset = 1 + 32 + 32

func parseMetadataName(data []byte) (name, symbol string, err error) {
	off := metadataNameOffset
	name, off, err = readBorshString(data, off)
	if err != nil {
		return "", "", err
	}
	symbol, _, err = readBorshString(data, off)
	if err != nil {
		return "", "", err
	}
	return name, symbol, nil
}

func readBorshString(data []byte, off int) (string, int, error) {
	if len(data) < off+4 {
		return "", off, errShortAccount
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if n < 0 || len(data) < off+n {
		return "", off, errShortAccount
	}
	s := strings.TrimRight(string(data[off:off+n]), "\x00 ")
	return s, off + n, nil
}

func parseAmount(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
