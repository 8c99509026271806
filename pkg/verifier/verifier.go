// Package verifier checks every input of a transaction against the previous
// outputs it spends.  Inputs are independent of each other and are verified
// in parallel.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ArkLabsHQ/scriptvm/pkg/script"
	"github.com/ArkLabsHQ/scriptvm/pkg/wire"
)

var (
	// ErrMissingPrevOut is reported for inputs whose previous output the
	// fetcher does not know.
	ErrMissingPrevOut = errors.New("missing previous output")

	// ErrNoInputs is returned for transactions without inputs.
	ErrNoInputs = errors.New("transaction has no inputs")
)

// InputResult is the verdict on a single input.
type InputResult struct {
	// Index is the position of the input in the transaction.
	Index int

	// Class is the class of the spent output script.
	Class script.ScriptClass

	// Err is nil when the input is valid.
	Err error
}

// Result collects the verdicts on every input of a transaction.
type Result struct {
	TxID   chainhash.Hash
	Inputs []InputResult
}

// Valid reports whether every input verified.
func (r *Result) Valid() bool {
	return r.Err() == nil
}

// Err returns the failures of all invalid inputs joined together, or nil.
func (r *Result) Err() error {
	var errs []error
	for _, in := range r.Inputs {
		if in.Err != nil {
			errs = append(errs, fmt.Errorf("input %d: %w", in.Index, in.Err))
		}
	}
	return errors.Join(errs...)
}

type options struct {
	flags       script.ScriptFlags
	workers     int
	sigCache    *script.SigCache
	shareHashes bool
}

// Option configures a Verifier.
type Option func(*options)

// WithFlags sets the script verification flags.  StandardVerifyFlags is
// used by default.
func WithFlags(flags script.ScriptFlags) Option {
	return func(o *options) {
		o.flags = flags
	}
}

// WithWorkers bounds the number of inputs verified concurrently.  Values
// below one mean one worker per CPU.
func WithWorkers(workers int) Option {
	return func(o *options) {
		o.workers = workers
	}
}

// WithSigCache sets a signature cache shared by every verification.
func WithSigCache(sigCache *script.SigCache) Option {
	return func(o *options) {
		o.sigCache = sigCache
	}
}

// WithSharedSighashCache controls whether the sighash midstates are
// computed once per transaction and shared by all inputs (the default), or
// recomputed for each input.
func WithSharedSighashCache(share bool) Option {
	return func(o *options) {
		o.shareHashes = share
	}
}

// Verifier verifies transactions.  It is safe for concurrent use.
type Verifier struct {
	opts options
}

// New returns a Verifier configured by opts.
func New(opts ...Option) *Verifier {
	o := options{
		flags:       script.StandardVerifyFlags,
		shareHashes: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}

	return &Verifier{opts: o}
}

// Verify checks every input of tx.  Script failures are reported per input
// in the Result; the returned error is only set when the transaction has no
// inputs or ctx is done before all inputs were checked.
func (v *Verifier) Verify(ctx context.Context, tx *wire.Transaction,
	prevOuts script.PrevOutputFetcher) (*Result, error) {

	if len(tx.TxIn) == 0 {
		return nil, ErrNoInputs
	}

	result := &Result{
		TxID:   tx.TxHash(),
		Inputs: make([]InputResult, len(tx.TxIn)),
	}

	var sharedHashes *script.SighashCache
	if v.opts.shareHashes {
		sharedHashes = script.NewSighashCache(tx, prevOuts)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.workers)
	for idx := range tx.TxIn {
		idx := idx
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			hashCache := sharedHashes
			if hashCache == nil {
				hashCache = script.NewSighashCache(tx, prevOuts)
			}

			// Each goroutine only writes its own slot.
			result.Inputs[idx] = v.verifyInput(tx, idx, prevOuts, hashCache)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// verifyInput runs the script engine over input idx.
func (v *Verifier) verifyInput(tx *wire.Transaction, idx int,
	prevOuts script.PrevOutputFetcher,
	hashCache *script.SighashCache) InputResult {

	res := InputResult{Index: idx}

	var prevOut *wire.TxOut
	if prevOuts != nil {
		prevOut = prevOuts.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	}
	if prevOut == nil {
		res.Err = fmt.Errorf("%w: %v", ErrMissingPrevOut,
			tx.TxIn[idx].PreviousOutPoint)
		return res
	}
	res.Class = script.GetScriptClass(prevOut.PkScript)

	engine, err := script.NewEngine(
		prevOut.PkScript, tx, idx, v.opts.flags, v.opts.sigCache,
		hashCache, prevOut.Value, prevOuts,
	)
	if err == nil {
		err = engine.Execute()
	}
	if err != nil {
		res.Err = err

		log.WithFields(log.Fields{
			"txid":  tx.TxHash(),
			"input": idx,
			"class": res.Class,
		}).WithError(err).Debug("input failed verification")
	}

	return res
}
