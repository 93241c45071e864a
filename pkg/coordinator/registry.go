package coordinator

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/crypto"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// Keyring holds the fee-recipient signers of one chain. Address order is
// first-seen, which fixes the signature ordering of batched approvals.
type Keyring struct {
	signers map[common.Address]*crypto.Signer
	order   []common.Address
}

func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[common.Address]*crypto.Signer)}
}

// Add registers a signer; re-adding an address is a no-op.
func (k *Keyring) Add(signer *crypto.Signer) {
	addr := signer.Address()
	if _, ok := k.signers[addr]; ok {
		return
	}
	k.signers[addr] = signer
	k.order = append(k.order, addr)
}

func (k *Keyring) Contains(addr common.Address) bool {
	_, ok := k.signers[addr]
	return ok
}

func (k *Keyring) Signer(addr common.Address) (*crypto.Signer, bool) {
	signer, ok := k.signers[addr]
	return signer, ok
}

// Addresses returns the fee-recipient addresses in first-seen order.
func (k *Keyring) Addresses() []common.Address {
	out := make([]common.Address, len(k.order))
	copy(out, k.order)
	return out
}

func (k *Keyring) Len() int { return len(k.order) }

// ChainBundle is everything the approver needs for one chain. Immutable
// after registration.
type ChainBundle struct {
	ChainID   int64
	Addresses zeroex.ContractAddresses
	Keyring   *Keyring
	Oracle    OrderStateOracle
	Verifier  SignatureVerifier
}

// Registry maps chain ids to their bundles. Populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	chains map[int64]*ChainBundle
	ids    []int64
}

func NewRegistry() *Registry {
	return &Registry{chains: make(map[int64]*ChainBundle)}
}

// Register adds a bundle, replacing any previous bundle for the chain.
func (r *Registry) Register(bundle *ChainBundle) {
	if _, ok := r.chains[bundle.ChainID]; !ok {
		r.ids = append(r.ids, bundle.ChainID)
		sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	}
	r.chains[bundle.ChainID] = bundle
}

func (r *Registry) Chain(chainID int64) (*ChainBundle, bool) {
	bundle, ok := r.chains[chainID]
	return bundle, ok
}

// ChainIDs returns the registered chain ids in ascending order.
func (r *Registry) ChainIDs() []int64 {
	out := make([]int64, len(r.ids))
	copy(out, r.ids)
	return out
}
