package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// genesisHash is the previous_hash sentinel for the first node in a chain:
// 64 hex zero characters, i.e. the hex encoding of a 32-byte zero hash.
var genesisHash = strings.Repeat("0", 64)

// AuditNode is a single entry in a MerkleChain: a SHA-256 hash of its event
// payload chained with the hash of the preceding node, forming a verifiable
// append-only log. Ported from rustant-core/src/merkle.rs's AuditNode.
type AuditNode struct {
	Sequence     uint64    `json:"sequence"`
	EventHash    string    `json:"event_hash"`
	PreviousHash string    `json:"previous_hash"`
	ChainHash    string    `json:"chain_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// VerificationResult reports the outcome of checking a MerkleChain's integrity.
type VerificationResult struct {
	IsValid      bool    `json:"is_valid"`
	CheckedNodes int     `json:"checked_nodes"`
	FirstInvalid *uint64 `json:"first_invalid,omitempty"`
}

// MerkleChain is an append-only hash chain for tamper-evident audit logging,
// used by the Safety Guardian to record every risk decision and by the Agent
// Loop to record every tool invocation. Ported from
// rustant-core/src/merkle.rs's MerkleChain.
type MerkleChain struct {
	nodes              []AuditNode
	checkpoints        []checkpoint
	checkpointInterval uint64
}

type checkpoint struct {
	Sequence uint64
	Hash     string
}

// NewMerkleChain returns an empty chain with checkpointing disabled.
func NewMerkleChain() *MerkleChain {
	return &MerkleChain{}
}

// NewMerkleChainWithCheckpointInterval returns an empty chain that
// automatically records a checkpoint every interval appends. interval == 0
// disables checkpointing.
func NewMerkleChainWithCheckpointInterval(interval uint64) *MerkleChain {
	return &MerkleChain{checkpointInterval: interval}
}

// Len returns the number of nodes in the chain.
func (c *MerkleChain) Len() int { return len(c.nodes) }

// IsEmpty reports whether the chain has no nodes.
func (c *MerkleChain) IsEmpty() bool { return len(c.nodes) == 0 }

// RootHash returns the latest chain hash, or "" if the chain is empty.
func (c *MerkleChain) RootHash() string {
	if len(c.nodes) == 0 {
		return ""
	}
	return c.nodes[len(c.nodes)-1].ChainHash
}

// Nodes returns all nodes in the chain. The returned slice must not be
// mutated by the caller.
func (c *MerkleChain) Nodes() []AuditNode { return c.nodes }

// Checkpoints returns the recorded (sequence, root hash) checkpoints.
func (c *MerkleChain) Checkpoints() [][2]any {
	out := make([][2]any, len(c.checkpoints))
	for i, cp := range c.checkpoints {
		out[i] = [2]any{cp.Sequence, cp.Hash}
	}
	return out
}

// Append adds a new event to the chain and returns the resulting node.
// eventData is an arbitrary byte payload — typically the JSON encoding of an
// audit event or a Guardian Explanation.
func (c *MerkleChain) Append(eventData []byte) AuditNode {
	sequence := uint64(len(c.nodes))
	eventHash := hexSHA256(eventData)

	previousHash := genesisHash
	if len(c.nodes) > 0 {
		previousHash = c.nodes[len(c.nodes)-1].ChainHash
	}

	node := AuditNode{
		Sequence:     sequence,
		EventHash:    eventHash,
		PreviousHash: previousHash,
		ChainHash:    computeChainHash(sequence, eventHash, previousHash),
		Timestamp:    time.Now().UTC(),
	}
	c.nodes = append(c.nodes, node)

	if c.checkpointInterval > 0 && (sequence+1)%c.checkpointInterval == 0 {
		c.checkpoints = append(c.checkpoints, checkpoint{Sequence: sequence, Hash: c.RootHash()})
	}

	return node
}

// VerifyNode reports whether the node at index is internally consistent and
// correctly linked to its predecessor.
func (c *MerkleChain) VerifyNode(index int) bool {
	if index < 0 || index >= len(c.nodes) {
		return false
	}
	node := c.nodes[index]

	expected := computeChainHash(node.Sequence, node.EventHash, node.PreviousHash)
	if expected != node.ChainHash {
		return false
	}

	if index == 0 {
		return node.PreviousHash == genesisHash
	}
	return node.PreviousHash == c.nodes[index-1].ChainHash
}

// VerifyChain checks every node in order, then the stored checkpoints.
func (c *MerkleChain) VerifyChain() VerificationResult {
	if len(c.nodes) == 0 {
		return VerificationResult{IsValid: true}
	}

	for i := range c.nodes {
		if !c.VerifyNode(i) {
			seq := c.nodes[i].Sequence
			return VerificationResult{IsValid: false, CheckedNodes: i + 1, FirstInvalid: &seq}
		}
	}

	if !c.VerifyCheckpoints() {
		return VerificationResult{IsValid: false, CheckedNodes: len(c.nodes)}
	}

	return VerificationResult{IsValid: true, CheckedNodes: len(c.nodes)}
}

// VerifyCheckpoints reports whether every recorded checkpoint still matches
// the chain hash of the node it refers to.
func (c *MerkleChain) VerifyCheckpoints() bool {
	for _, cp := range c.checkpoints {
		idx := int(cp.Sequence)
		if idx >= len(c.nodes) {
			return false
		}
		if c.nodes[idx].ChainHash != cp.Hash {
			return false
		}
	}
	return true
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// computeChainHash mirrors rustant-core/src/merkle.rs's compute_chain_hash:
// SHA-256(sequence as little-endian u64 || event_hash bytes || previous_hash
// bytes), hex-encoded. The byte layout must match exactly for interop with
// chains produced by the original implementation.
func computeChainHash(sequence uint64, eventHash, previousHash string) string {
	var seqBytes [8]byte
	binary.LittleEndian.PutUint64(seqBytes[:], sequence)

	h := sha256.New()
	h.Write(seqBytes[:])
	h.Write([]byte(eventHash))
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}
