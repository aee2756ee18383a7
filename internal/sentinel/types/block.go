package types

import "time"

// BlockSnapshot 不可变的区块快照，由 BlockBus 发布
type BlockSnapshot struct {
	Chain     ChainID   `json:"chain"`
	Number    uint64    `json:"number"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash,omitempty"`
}
