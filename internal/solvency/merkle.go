// Package solvency builds merkle commitments over user balances and checks
// them against on-chain reserves.
package solvency

import (
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/qubex-labs/qupool/internal/domain"
)

// LeafHash hashes one (address, balance) leaf.
func LeafHash(address string, balanceQu int64) string {
	sum := sha3.Sum256([]byte(fmt.Sprintf("%s|%d", address, balanceQu)))
	return hex.EncodeToString(sum[:])
}

func nodeHash(left, right string) string {
	sum := sha3.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// Tree is a merkle tree over a balance snapshot. Leaves are sorted by
// address so the same snapshot always yields the same root.
type Tree struct {
	leaves []domain.ProofLeaf
	// levels[0] holds the leaf hashes, the last level holds the root.
	levels [][]string
	index  map[string]int
}

// BuildTree constructs the tree for a set of leaves. An empty snapshot
// yields a tree whose root is the hash of an empty string.
func BuildTree(leaves []domain.ProofLeaf) *Tree {
	sorted := make([]domain.ProofLeaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	t := &Tree{leaves: sorted, index: make(map[string]int, len(sorted))}

	level := make([]string, len(sorted))
	for i, l := range sorted {
		level[i] = LeafHash(l.Address, l.BalanceQu)
		t.index[l.Address] = i
	}
	if len(level) == 0 {
		sum := sha3.Sum256(nil)
		level = []string{hex.EncodeToString(sum[:])}
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		// Odd levels duplicate their last node.
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
			t.levels[len(t.levels)-1] = level
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the merkle root in hex.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Leaves returns the sorted leaf snapshot the tree was built from.
func (t *Tree) Leaves() []domain.ProofLeaf {
	return t.leaves
}

// Proof returns the sibling path for the given address.
func (t *Tree) Proof(address string) (domain.InclusionProof, error) {
	idx, ok := t.index[address]
	if !ok {
		return domain.InclusionProof{}, fmt.Errorf("solvency: address %s not in snapshot: %w", address, domain.ErrNotFound)
	}
	leaf := t.leaves[idx]
	proof := domain.InclusionProof{
		Address:    leaf.Address,
		BalanceQu:  leaf.BalanceQu,
		LeafHash:   t.levels[0][idx],
		MerkleRoot: t.Root(),
	}
	for _, level := range t.levels[:len(t.levels)-1] {
		var sib int
		if idx%2 == 0 {
			sib = idx + 1
		} else {
			sib = idx - 1
		}
		proof.Path = append(proof.Path, domain.ProofStep{
			Hash: level[sib],
			Left: sib < idx,
		})
		idx /= 2
	}
	return proof, nil
}

// VerifyInclusion replays a proof path and reports whether it reaches the
// claimed root from the claimed leaf.
func VerifyInclusion(p domain.InclusionProof) bool {
	running := LeafHash(p.Address, p.BalanceQu)
	if p.LeafHash != "" && running != p.LeafHash {
		return false
	}
	for _, step := range p.Path {
		if step.Left {
			running = nodeHash(step.Hash, running)
		} else {
			running = nodeHash(running, step.Hash)
		}
	}
	return running == p.MerkleRoot
}
