package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	gql "github.com/dd0wney/cluso-subchain/pkg/graphql"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
)

// Initialization stages
const (
	StageSource   = "source"
	StageModule   = "module"
	StageSnapshot = "snapshot"
	StageCompat   = "compat"
)

// ErrHandleUsed is returned by a second Take
var ErrHandleUsed = errors.New("snapshot handle already used")

// InitializationError is a fatal failure to build the initial replica
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize replica (%s): %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// LoadOptions configures Load
type LoadOptions struct {
	Name    string // module chunk name
	Params  map[string]string
	Limits  *gql.LimitConfig
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Handle owns an initialized engine until Take hands it over
type Handle struct {
	engine   *replay.Engine
	snapshot *Snapshot
	taken    atomic.Bool
}

// Load waits for both sources and builds an engine over the snapshot. The module's ABI
// version must equal the snapshot's, and a pinned snapshot must name the module's digest.
func Load(ctx context.Context, moduleSrc, snapshotSrc Source, opts LoadOptions) (*Handle, error) {
	logger := logging.OrDefault(opts.Logger).With(logging.Component("snapshot"))
	timer := logging.StartTimer(logger, "replica initialization")

	var moduleBytes, snapshotBytes []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := moduleSrc.Bytes(gctx)
		if err != nil {
			return fmt.Errorf("module source: %w", err)
		}
		moduleBytes = b
		return nil
	})
	g.Go(func() error {
		b, err := snapshotSrc.Bytes(gctx)
		if err != nil {
			return fmt.Errorf("snapshot source: %w", err)
		}
		snapshotBytes = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fail(timer, StageSource, err)
	}

	name := opts.Name
	if name == "" {
		name = "module"
	}
	module, err := replay.CompileModule(name, moduleBytes)
	if err != nil {
		return nil, fail(timer, StageModule, err)
	}

	snap, err := Decode(snapshotBytes)
	if err != nil {
		return nil, fail(timer, StageSnapshot, err)
	}

	if int(snap.ABIVersion) != module.ABIVersion() {
		return nil, fail(timer, StageCompat, fmt.Errorf("snapshot abi version %d, module abi version %d", snap.ABIVersion, module.ABIVersion()))
	}
	if !snap.ModuleDigest.IsZero() && snap.ModuleDigest != module.Digest() {
		return nil, fail(timer, StageCompat, fmt.Errorf("snapshot pinned to module %s, got %s", snap.ModuleDigest, module.Digest()))
	}

	engine, err := replay.NewEngine(replay.EngineConfig{
		Module:   module,
		Store:    snap.State,
		Position: snap.Position,
		Params:   opts.Params,
		Limits:   opts.Limits,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fail(timer, StageModule, err)
	}

	timer.End()
	logger.Info("replica loaded",
		logging.Position(snap.Position),
		logging.Int("rows", snap.State.RowCount()),
		logging.String("module", module.Digest().String()),
	)

	return &Handle{engine: engine, snapshot: snap}, nil
}

func fail(timer *logging.TimedOperation, stage string, err error) error {
	ierr := &InitializationError{Stage: stage, Err: err}
	timer.EndError(ierr)
	return ierr
}

// Take hands the engine to its single owner
func (h *Handle) Take() (*replay.Engine, error) {
	if h.taken.Swap(true) {
		return nil, ErrHandleUsed
	}
	engine := h.engine
	h.engine = nil
	return engine, nil
}

// Position returns the snapshot position
func (h *Handle) Position() uint64 {
	return h.snapshot.Position
}

// ABIVersion returns the snapshot ABI version
func (h *Handle) ABIVersion() uint32 {
	return h.snapshot.ABIVersion
}
