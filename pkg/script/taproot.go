package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ArkLabsHQ/scriptvm/pkg/crypto"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

// TapscriptLeafVersion represents the various possible versions of a tapscript
// leaf version. Leaf versions are used to define, or introduce new script
// semantics, under the base taproot execution model.
type TapscriptLeafVersion uint8

const (
	// BaseLeafVersion is the base tapscript leaf version. The semantics of
	// this version are defined in BIP 342.
	BaseLeafVersion TapscriptLeafVersion = 0xc0
)

const (
	// ControlBlockBaseSize is the base size of a control block. This
	// includes the initial byte for the leaf version, and then serialized
	// schnorr public key.
	ControlBlockBaseSize = 33

	// ControlBlockNodeSize is the size of a given merkle branch hash in
	// the control block.
	ControlBlockNodeSize = 32

	// ControlBlockMaxNodeCount is the max number of nodes that can be
	// included in a control block. This value represents a merkle tree of
	// depth 2^128.
	ControlBlockMaxNodeCount = 128

	// ControlBlockMaxSize is the max possible size of a control block.
	// This simulates revealing a leaf from the largest possible tapscript
	// tree.
	ControlBlockMaxSize = ControlBlockBaseSize + (ControlBlockNodeSize *
		ControlBlockMaxNodeCount)
)

// ControlBlock houses the structured witness input for a taproot spend. This
// includes the internal taproot key, the leaf version, and finally a nearly
// complete merkle inclusion proof for the main taproot commitment.
type ControlBlock struct {
	// InternalKey is the internal public key in the taproot commitment.
	InternalKey *btcec.PublicKey

	// OutputKeyYIsOdd denotes if the y coordinate of the output key (the
	// key placed in the actual taproot output is odd.
	OutputKeyYIsOdd bool

	// LeafVersion is the specified leaf version of the tapscript leaf that
	// the InclusionProof below is based off of.
	LeafVersion TapscriptLeafVersion

	// InclusionProof is a series of merkle branches that when hashed
	// pairwise, starting with the revealed script, will yield the taproot
	// commitment root.
	InclusionProof []byte
}

// ToBytes returns the control block in a format suitable for using as part of
// a witness spending a tapscript output.
func (c *ControlBlock) ToBytes() ([]byte, error) {
	if c.InternalKey == nil {
		return nil, scriptError(ErrInternal, "control block has no "+
			"internal key")
	}
	if len(c.InclusionProof)%ControlBlockNodeSize != 0 ||
		len(c.InclusionProof) > ControlBlockNodeSize*ControlBlockMaxNodeCount {

		str := fmt.Sprintf("inclusion proof of %d bytes is malformed",
			len(c.InclusionProof))
		return nil, scriptError(ErrControlBlockInvalidLength, str)
	}

	b := make([]byte, 0, ControlBlockBaseSize+len(c.InclusionProof))

	// The first byte is a combination of the leaf version, using the
	// lowest bit to encode the parity of the output key.
	leafVersionAndParity := byte(c.LeafVersion) & TaprootLeafMask
	if c.OutputKeyYIsOdd {
		leafVersionAndParity |= 1
	}
	b = append(b, leafVersionAndParity)
	b = append(b, crypto.XOnly(c.InternalKey)...)

	// The inclusion proof goes last without any length prefix.
	return append(b, c.InclusionProof...), nil
}

// RootHash calculates the root hash of a tapscript given the revealed script.
func (c *ControlBlock) RootHash(revealedScript []byte) []byte {
	// We'll start by creating a new tapleaf from the revealed script,
	// this'll serve as the initial hash we'll use to incrementally
	// reconstruct the merkle root using the control block elements.
	merkleAccumulator := NewTapLeaf(c.LeafVersion, revealedScript).TapHash()

	// The control block is a series of nodes that serve as an inclusion
	// proof as we can start hashing with our leaf, with each internal
	// branch, until we reach the root.
	numNodes := len(c.InclusionProof) / ControlBlockNodeSize
	for nodeOffset := 0; nodeOffset < numNodes; nodeOffset++ {
		leafOffset := ControlBlockNodeSize * nodeOffset
		nextNode := c.InclusionProof[leafOffset : leafOffset+ControlBlockNodeSize]

		merkleAccumulator = tapBranchHash(merkleAccumulator[:], nextNode)
	}

	return merkleAccumulator[:]
}

// ParseControlBlock attempts to parse the raw bytes of a control block. An
// error is returned if the control block isn't well formed, or can't be
// parsed.
func ParseControlBlock(ctrlBlock []byte) (*ControlBlock, error) {
	switch {
	// The control block must minimally have 33 bytes for the internal
	// public key and script leaf version.
	case len(ctrlBlock) < ControlBlockBaseSize:
		str := fmt.Sprintf("min size is %v bytes, control block "+
			"is %v bytes", ControlBlockBaseSize, len(ctrlBlock))
		return nil, scriptError(ErrControlBlockTooSmall, str)

	// The control block can't be larger than a proof for the largest
	// possible tapscript merkle tree with 2^128 leaves.
	case len(ctrlBlock) > ControlBlockMaxSize:
		str := fmt.Sprintf("max size is %v, control block is %v bytes",
			ControlBlockMaxSize, len(ctrlBlock))
		return nil, scriptError(ErrControlBlockTooLarge, str)

	// Ignoring the fixed sized portion, we expect the total number of
	// remaining bytes to be a multiple of the node size, which is 32
	// bytes.
	case (len(ctrlBlock)-ControlBlockBaseSize)%ControlBlockNodeSize != 0:
		str := fmt.Sprintf("control block proof is not a multiple "+
			"of 32: %v", len(ctrlBlock)-ControlBlockBaseSize)
		return nil, scriptError(ErrControlBlockInvalidLength, str)
	}

	leafVersion := TapscriptLeafVersion(ctrlBlock[0] & TaprootLeafMask)
	yIsOdd := ctrlBlock[0]&0x01 == 0x01

	pubKey, err := crypto.ParseXOnlyPubKey(ctrlBlock[1:ControlBlockBaseSize])
	if err != nil {
		return nil, err
	}

	return &ControlBlock{
		InternalKey:     pubKey,
		OutputKeyYIsOdd: yIsOdd,
		LeafVersion:     leafVersion,
		InclusionProof:  ctrlBlock[ControlBlockBaseSize:],
	}, nil
}

// ComputeTaprootOutputKey calculates a top-level taproot output key given an
// internal key, and tapscript merkle root. The final key is derived as:
// taprootKey = internalKey + (h_tapTweak(internalKey || merkleRoot)*G).
func ComputeTaprootOutputKey(pubKey *btcec.PublicKey,
	scriptRoot []byte) (*btcec.PublicKey, error) {

	return crypto.TweakPublicKey(pubKey, scriptRoot)
}

// ComputeTaprootKeyNoScript calculates the top-level taproot output key given
// an internal key, and a desire that the only way an output can be spent is
// with the keyspend path. The tweak still applies, committing to an empty
// script root.
func ComputeTaprootKeyNoScript(internalKey *btcec.PublicKey) (*btcec.PublicKey, error) {
	return ComputeTaprootOutputKey(internalKey, []byte{})
}

// TweakTaprootPrivKey applies the same operation as ComputeTaprootOutputKey,
// but on the private key instead.
func TweakTaprootPrivKey(privKey *btcec.PrivateKey,
	scriptRoot []byte) (*btcec.PrivateKey, error) {

	return crypto.TweakPrivateKey(privKey, scriptRoot)
}

// VerifyTaprootLeafCommitment attempts to verify a taproot commitment of the
// revealed script within the taprootWitnessProgram (a schnorr public key)
// given the required information included in the control block. An error is
// returned if the reconstructed taproot commitment (a function of the merkle
// root and the internal key) doesn't match the passed witness program, or if
// the parity bit of the control block disagrees with the output key.
func VerifyTaprootLeafCommitment(controlBlock *ControlBlock,
	taprootWitnessProgram []byte, revealedScript []byte) error {

	rootHash := controlBlock.RootHash(revealedScript)

	taprootKey, err := ComputeTaprootOutputKey(
		controlBlock.InternalKey, rootHash,
	)
	if err != nil {
		return scriptError(ErrTaprootMerkleProofInvalid, err.Error())
	}

	expectedWitnessProgram := crypto.XOnly(taprootKey)
	if !bytes.Equal(expectedWitnessProgram, taprootWitnessProgram) {
		str := fmt.Sprintf("derived witness program %x doesn't match "+
			"%x", expectedWitnessProgram, taprootWitnessProgram)
		return scriptError(ErrTaprootMerkleProofInvalid, str)
	}

	if keyIsOdd := crypto.OutputKeyIsOdd(taprootKey); keyIsOdd != controlBlock.OutputKeyYIsOdd {
		str := fmt.Sprintf("control block y is odd: %v, output key "+
			"y is odd: %v", controlBlock.OutputKeyYIsOdd, keyIsOdd)
		return scriptError(ErrTaprootOutputKeyParityMismatch, str)
	}

	return nil
}

// TapNode represents an abstract node in a tapscript merkle tree. A node is
// either a branch or a leaf.
type TapNode interface {
	// TapHash returns the hash of the node. This will either be a tagged
	// hash derived from a branch, or a leaf.
	TapHash() chainhash.Hash

	// Left returns the left node. If this is a leaf node, this may be nil.
	Left() TapNode

	// Right returns the right node. If this is a leaf node, this may be
	// nil.
	Right() TapNode
}

// TapLeaf represents a leaf in a tapscript tree. A leaf has two components:
// the leaf version, and the script associated with that leaf version.
type TapLeaf struct {
	// LeafVersion is the leaf version of this leaf.
	LeafVersion TapscriptLeafVersion

	// Script is the script to be validated based on the specified leaf
	// version.
	Script []byte
}

// Left returns nil as a leaf has no children.
func (t TapLeaf) Left() TapNode {
	return nil
}

// Right returns nil as a leaf has no children.
func (t TapLeaf) Right() TapNode {
	return nil
}

// NewBaseTapLeaf returns a new TapLeaf for the specified script, using the
// current base leaf version (BIP 342).
func NewBaseTapLeaf(script []byte) TapLeaf {
	return TapLeaf{
		Script:      script,
		LeafVersion: BaseLeafVersion,
	}
}

// NewTapLeaf returns a new TapLeaf with the given leaf version and script to
// be committed to.
func NewTapLeaf(leafVersion TapscriptLeafVersion, script []byte) TapLeaf {
	return TapLeaf{
		LeafVersion: leafVersion,
		Script:      script,
	}
}

// TapHash returns the hash digest of the target taproot script leaf. The
// digest is computed as: h_tapleaf(leafVersion || compactSizeof(script) ||
// script).
func (t TapLeaf) TapHash() chainhash.Hash {
	leafEncoding := make([]byte, 0, 1+wire.VarBytesSerializeSize(t.Script))
	leafEncoding = append(leafEncoding, byte(t.LeafVersion))
	leafEncoding = wire.AppendVarBytes(leafEncoding, t.Script)

	return crypto.TaggedHash(crypto.TagTapLeaf, leafEncoding)
}

// TapBranch represents an internal branch in the tapscript tree. The left or
// right nodes may either be another branch, leaves, or a combination of both.
type TapBranch struct {
	leftNode  TapNode
	rightNode TapNode
}

// NewTapBranch creates a new internal branch from a left and right node.
func NewTapBranch(l, r TapNode) TapBranch {
	return TapBranch{
		leftNode:  l,
		rightNode: r,
	}
}

// Left is the left node of the branch, this might be a leaf or another
// branch.
func (t TapBranch) Left() TapNode {
	return t.leftNode
}

// Right is the right node of a branch, this might be a leaf or another branch.
func (t TapBranch) Right() TapNode {
	return t.rightNode
}

// TapHash returns the hash digest of the taproot internal branch given a left
// and right node. The final hash digest is: h_tapbranch(leftNode ||
// rightNode), where leftNode is the lexicographically smaller of the two nodes.
func (t TapBranch) TapHash() chainhash.Hash {
	leftHash := t.leftNode.TapHash()
	rightHash := t.rightNode.TapHash()
	return tapBranchHash(leftHash[:], rightHash[:])
}

// tapBranchHash takes the raw tap hashes of the right and left nodes and
// hashes them into a branch. See The TapBranch method for the specifics.
func tapBranchHash(l, r []byte) chainhash.Hash {
	if bytes.Compare(l, r) > 0 {
		l, r = r, l
	}

	return crypto.TaggedHash(crypto.TagTapBranch, l, r)
}

// TapscriptProof is a proof of inclusion that a given leaf (a script and leaf
// version) is included within a top-level taproot output commitment.
type TapscriptProof struct {
	// TapLeaf is the leaf that we want to prove inclusion for.
	TapLeaf

	// RootNode is the root of the tapscript tree, this will be used to
	// compute what the final output key looks like.
	RootNode TapNode

	// InclusionProof is the tail end of the control block that contains
	// the series of hashes (the sibling hashes up the tree), that when
	// hashed together allow us to re-derive the top level taproot output.
	InclusionProof []byte
}

// ToControlBlock maps the tapscript proof into a fully valid control block
// that can be used as a witness item for a tapscript spend.
func (t *TapscriptProof) ToControlBlock(
	internalKey *btcec.PublicKey) (ControlBlock, error) {

	// Compute the total level output commitment based on the populated
	// root node.
	rootHash := t.RootNode.TapHash()
	taprootKey, err := ComputeTaprootOutputKey(internalKey, rootHash[:])
	if err != nil {
		return ControlBlock{}, err
	}

	return ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: crypto.OutputKeyIsOdd(taprootKey),
		LeafVersion:     t.TapLeaf.LeafVersion,
		InclusionProof:  t.InclusionProof,
	}, nil
}

// IndexedTapScriptTree reprints a fully contracted tapscript tree. The
// RootNode can be used to traverse down the full tree. In addition, complete
// inclusion proofs for each leaf are included as well, with an index into
// the slice of proof based on the tap leaf hash of a given leaf.
type IndexedTapScriptTree struct {
	// RootNode is the root of the tapscript tree. RootNode.TapHash() can
	// be used to extract the hash needed to derive the taptweak committed
	// to in the taproot output.
	RootNode TapNode

	// LeafMerkleProofs is a slice that houses the series of merkle
	// inclusion proofs for each leaf based on the input order of the
	// leaves.
	LeafMerkleProofs []TapscriptProof

	// LeafProofIndex maps the TapHash() of a given leaf node to the index
	// within the LeafMerkleProofs array above. This can be used to
	// retrieve the inclusion proof for a given script when constructing
	// the witness stack and control block for spending a tapscript path.
	LeafProofIndex map[chainhash.Hash]int
}

// NewIndexedTapScriptTree computes the merkle root and the inclusion proof of
// every leaf of an already shaped tree.  Leaves are indexed in depth-first
// order, left before right.
func NewIndexedTapScriptTree(root TapNode) (*IndexedTapScriptTree, error) {
	if root == nil {
		return nil, scriptError(ErrInternal, "empty tapscript tree")
	}

	_, proofs, err := calcMerkleRoot(root, 0)
	if err != nil {
		return nil, err
	}

	tree := &IndexedTapScriptTree{
		RootNode:         root,
		LeafMerkleProofs: make([]TapscriptProof, len(proofs)),
		LeafProofIndex:   make(map[chainhash.Hash]int, len(proofs)),
	}
	for i, proof := range proofs {
		proof.RootNode = root
		tree.LeafMerkleProofs[i] = proof
		tree.LeafProofIndex[proof.TapHash()] = i
	}

	return tree, nil
}

// calcMerkleRoot walks the tree returning the node hash together with the
// inclusion proof of every leaf below it.  Sibling hashes are appended on the
// way up, so a proof lists hashes from the leaf towards the root.
func calcMerkleRoot(node TapNode,
	depth int) (chainhash.Hash, []TapscriptProof, error) {

	if depth > ControlBlockMaxNodeCount {
		str := fmt.Sprintf("tapscript tree deeper than %d levels",
			ControlBlockMaxNodeCount)
		return chainhash.Hash{}, nil, scriptError(
			ErrControlBlockTooLarge, str,
		)
	}

	if leaf, ok := node.(TapLeaf); ok {
		return leaf.TapHash(), []TapscriptProof{{TapLeaf: leaf}}, nil
	}
	if leaf, ok := node.(*TapLeaf); ok {
		return leaf.TapHash(), []TapscriptProof{{TapLeaf: *leaf}}, nil
	}

	left, right := node.Left(), node.Right()
	if left == nil || right == nil {
		return chainhash.Hash{}, nil, scriptError(ErrInternal,
			"tapscript branch is missing a child")
	}

	leftHash, leftProofs, err := calcMerkleRoot(left, depth+1)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	rightHash, rightProofs, err := calcMerkleRoot(right, depth+1)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}

	for i := range leftProofs {
		leftProofs[i].InclusionProof = append(
			leftProofs[i].InclusionProof, rightHash[:]...,
		)
	}
	for i := range rightProofs {
		rightProofs[i].InclusionProof = append(
			rightProofs[i].InclusionProof, leftHash[:]...,
		)
	}

	return tapBranchHash(leftHash[:], rightHash[:]),
		append(leftProofs, rightProofs...), nil
}

// AssembleTaprootScriptTree constructs a new fully indexed tapscript tree
// given a series of leaf nodes. Adjacent leaves are paired level by level,
// and an odd node out is carried up unchanged, yielding a balanced tree.
func AssembleTaprootScriptTree(leaves ...TapLeaf) (*IndexedTapScriptTree, error) {
	if len(leaves) == 0 {
		return nil, scriptError(ErrInternal, "no tapscript leaves")
	}

	level := make([]TapNode, len(leaves))
	for i, leaf := range leaves {
		level[i] = leaf
	}

	for len(level) > 1 {
		next := make([]TapNode, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, NewTapBranch(level[i], level[i+1]))
		}
		level = next
	}

	return NewIndexedTapScriptTree(level[0])
}

// ComputeControlBlock returns the serialized control block spending leaf from
// the output committing to tree under internalKey.
func ComputeControlBlock(tree *IndexedTapScriptTree, leaf TapLeaf,
	internalKey *btcec.PublicKey) ([]byte, error) {

	idx, ok := tree.LeafProofIndex[leaf.TapHash()]
	if !ok {
		str := fmt.Sprintf("leaf %x is not part of the tree", leaf.Script)
		return nil, scriptError(ErrTaprootMerkleProofInvalid, str)
	}

	ctrlBlock, err := tree.LeafMerkleProofs[idx].ToControlBlock(internalKey)
	if err != nil {
		return nil, err
	}
	return ctrlBlock.ToBytes()
}
