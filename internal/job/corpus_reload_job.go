package job

import (
	"context"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/store"
)

// CorpusSource is the durable corpus the in-memory store mirrors.
type CorpusSource interface {
	LatestCommit(ctx context.Context) (int64, error)
	Load(ctx context.Context) (*store.ChangeSet, int64, error)
}

// CorpusReloadJob restores the store from durable storage whenever another
// process has committed since the last load.
type CorpusReloadJob struct {
	source CorpusSource
	store  *store.Store
	loaded atomic.Int64
}

func NewCorpusReloadJob(source CorpusSource, st *store.Store, loadedSeq int64) *CorpusReloadJob {
	j := &CorpusReloadJob{source: source, store: st}
	j.loaded.Store(loadedSeq)
	return j
}

func (j *CorpusReloadJob) Name() string {
	return "corpus_reload"
}

// Loaded is the commit sequence the store currently reflects.
func (j *CorpusReloadJob) Loaded() int64 {
	return j.loaded.Load()
}

// Committed records a commit this process wrote itself. It only advances
// when seq directly follows the loaded one; otherwise another writer got in
// between and the next run reloads.
func (j *CorpusReloadJob) Committed(seq int64) {
	j.loaded.CompareAndSwap(seq-1, seq)
}

func (j *CorpusReloadJob) Run(ctx context.Context) error {
	latest, err := j.source.LatestCommit(ctx)
	if err != nil {
		return err
	}
	if latest <= j.loaded.Load() {
		return nil
	}
	version := j.store.Version()
	corpus, seq, err := j.source.Load(ctx)
	if err != nil {
		return err
	}
	restored, err := j.store.RestoreFrom(corpus, version)
	if err != nil {
		return err
	}
	if !restored {
		logutil.GetLogger(ctx).Info("corpus reload deferred, store committed during load", zap.Int64("commit", seq))
		return nil
	}
	j.advance(seq)
	logutil.GetLogger(ctx).Info("corpus reloaded",
		zap.Int64("commit", seq),
		zap.Uint64("version", j.store.Version()),
		zap.Int("segments", len(corpus.Segments)))
	return nil
}

func (j *CorpusReloadJob) advance(seq int64) {
	for {
		cur := j.loaded.Load()
		if seq <= cur || j.loaded.CompareAndSwap(cur, seq) {
			return
		}
	}
}
