package flow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
	"github.com/thin-edge/tedge-mapper-core/internal/worker"
)

func TestManagerReconcileAddChangeRemove(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(inPath, []byte(""), 0o644))

	builder := &Builder{
		FlowsDir: dir,
		Registry: steps.NewRegistry(),
		Store:    contextstore.New(),
		Log:      logging.NewScoped(nil, nil),
	}

	pool := worker.NewPool(logging.NewScoped(nil, nil))
	mgr := NewManager(pool, builder, logging.NewScoped(nil, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	t.Cleanup(cancel)
	pool.Start(ctx)

	def := &Definition{
		Name:   "f1",
		Path:   filepath.Join(dir, "f1.toml"),
		Input:  Input{File: &FileInput{Path: inPath, Topic: "t"}},
		Steps:  []StepDef{{Builtin: "add-timestamp"}},
		Output: Output{File: &FileOutput{Path: outPath}},
	}
	require.NoError(t, mgr.Add(def))

	mgr.Reconcile(ChangeSet{Changed: map[string]*Definition{def.Path: def}})
	mgr.Reconcile(ChangeSet{Removed: []string{def.Path}})

	pool.Stop()
}
