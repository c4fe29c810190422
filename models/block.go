package models

import (
	"fmt"
)

// GenesisPreviousHash is the previous hash recorded in block 0.
const GenesisPreviousHash Hash = "0"

type Block struct {
	Index        uint64        `json:"index"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash Hash          `json:"previous_hash"`
	Timestamp    int64         `json:"timestamp"`
	Hash         Hash          `json:"hash"`
}

func NewBlock(index uint64, txs []Transaction, prevHash Hash, timestamp int64, h Hasher) *Block {
	if txs == nil {
		txs = []Transaction{}
	}
	block := &Block{
		Index:        index,
		Transactions: txs,
		PreviousHash: prevHash,
		Timestamp:    timestamp,
	}
	block.Hash = block.CalculateHash(h)
	return block
}

func NewGenesisBlock(timestamp int64, h Hasher) *Block {
	return NewBlock(0, nil, GenesisPreviousHash, timestamp, h)
}

// HashInput covers index, timestamp, previous hash and every transaction.
func (b *Block) HashInput() []byte {
	var w canonicalWriter
	w.u64(b.Index)
	w.i64(b.Timestamp)
	w.str(string(b.PreviousHash))
	w.u64(uint64(len(b.Transactions)))
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		w.field(tx.HashInput())
		w.str(string(tx.Status))
		w.str(string(tx.TxHash))
	}
	return w.bytes()
}

func (b *Block) CalculateHash(h Hasher) Hash {
	return HashFromBytes(h.Hash(b.HashInput()))
}

func (b *Block) Validate(h Hasher) error {
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if tx.ComputeHash(h) != tx.TxHash {
			return fmt.Errorf("block %d: transaction %d hash mismatch", b.Index, i)
		}
	}
	if calculated := b.CalculateHash(h); calculated != b.Hash {
		return fmt.Errorf("block %d: hash mismatch (stored %s, calculated %s)", b.Index, b.Hash, calculated)
	}
	return nil
}

func (b Block) Clone() Block {
	c := b
	c.Transactions = make([]Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		c.Transactions[i] = tx.Clone()
	}
	return c
}

// ValidateChain validates the entire blockchain
func ValidateChain(blocks []Block, h Hasher) error {
	if len(blocks) == 0 {
		return fmt.Errorf("chain is empty")
	}

	genesis := &blocks[0]
	if genesis.Index != 0 || genesis.PreviousHash != GenesisPreviousHash || len(genesis.Transactions) != 0 {
		return fmt.Errorf("block 0: invalid genesis block")
	}
	if err := genesis.Validate(h); err != nil {
		return err
	}

	for i := 1; i < len(blocks); i++ {
		current := &blocks[i]
		previous := &blocks[i-1]

		if current.Index != previous.Index+1 {
			return fmt.Errorf("block %d: invalid index %d", i, current.Index)
		}
		if current.PreviousHash != previous.Hash {
			return fmt.Errorf("block %d: invalid previous hash link", i)
		}
		if current.Timestamp < previous.Timestamp {
			return fmt.Errorf("block %d: timestamp precedes block %d", i, i-1)
		}
		if err := current.Validate(h); err != nil {
			return err
		}
	}

	return nil
}

// VerifyChainSignatures re-verifies every transaction signature.
func VerifyChainSignatures(blocks []Block, v Verifier) error {
	for _, block := range blocks {
		for j := range block.Transactions {
			if !block.Transactions[j].VerifySignature(v) {
				return fmt.Errorf("block %d: transaction %d has an invalid signature", block.Index, j)
			}
		}
	}
	return nil
}
