package core

import "github.com/ethereum/go-ethereum/rlp"

// rlp_codec.go holds the internal (non-wire) RLP encoding used to produce the
// canonical byte representation that block/header hashing is computed over.
// Carried forward from the teacher's replication.go, which used
// github.com/ethereum/go-ethereum/rlp for exactly this purpose.

func rlpEncodeHeader(h *BlockHeader) ([]byte, error) {
	return rlp.EncodeToBytes(h)
}

func rlpEncodeBlock(b *Block) ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// rlpDecodeBlockBytes is the inverse of rlpEncodeBlock, used by the wire
// codec's MsgBlock.Unserialize to turn a received payload into a Block.
func rlpDecodeBlockBytes(data []byte) (*Block, error) {
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
