package types

import (
	"fmt"
	"github.com/mr-tron/base58"
)

const PubkeySize = 32

// Pubkey Solana 账户地址
type Pubkey [PubkeySize]byte

func (p Pubkey) String() string { return base58.Encode(p[:]) }
func (p Pubkey) IsZero() bool   { return p == Pubkey{} }

func PubkeyFromBytes(b []byte) (pk Pubkey, err error) {
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("pubkey must be %d bytes, got %d", PubkeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// TryPubkeyFromString base58 解码，长度不是 32 字节时报错
func TryPubkeyFromString(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	pk, err := PubkeyFromBytes(raw)
	if err != nil {
		return Pubkey{}, fmt.Errorf("pubkey %q: %w", s, err)
	}
	return pk, nil
}

// IsSolanaAddress 链上 mint 与池地址的格式校验
func IsSolanaAddress(s string) bool {
	_, err := TryPubkeyFromString(s)
	return err == nil
}
