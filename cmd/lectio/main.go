package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/lectio/internal/ai"
	"github.com/xxxsen/lectio/internal/config"
	"github.com/xxxsen/lectio/internal/db"
	"github.com/xxxsen/lectio/internal/embedcache"
	"github.com/xxxsen/lectio/internal/filestore"
	"github.com/xxxsen/lectio/internal/handler"
	"github.com/xxxsen/lectio/internal/index"
	"github.com/xxxsen/lectio/internal/job"
	"github.com/xxxsen/lectio/internal/middleware"
	"github.com/xxxsen/lectio/internal/model"
	"github.com/xxxsen/lectio/internal/morph"
	"github.com/xxxsen/lectio/internal/repo"
	"github.com/xxxsen/lectio/internal/retrieval"
	"github.com/xxxsen/lectio/internal/schedule"
	"github.com/xxxsen/lectio/internal/service"
	"github.com/xxxsen/lectio/internal/store"
)

// languageSlug owns commits that only declare configured languages.
const languageSlug = "_languages"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "lectio",
		Short: "ancient language reader and retrieval server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run lectio server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	var ingestKeys []string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest source bundles from the file store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runIngest(cfg, ingestKeys)
		},
	}
	ingestCmd.Flags().StringSliceVar(&ingestKeys, "key", nil, "bundle keys to ingest, all bundles when empty")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("no database configured")
			}
			sqlDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, ingestCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(context.Background(), sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return sqlDB, nil
}

// app is the wired core shared by the server and the ingest command.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	corpus   *repo.CorpusRepo
	cache    *repo.EmbeddingCacheRepo
	store    *store.Store
	embedder ai.IEmbedder
	reload   *job.CorpusReloadJob
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	var opts []store.Option
	if cfg.Database.Enabled() {
		sqlDB, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		a.corpus = repo.NewCorpusRepo(sqlDB)
		a.cache = repo.NewEmbeddingCacheRepo(sqlDB)
		opts = append(opts, store.WithPersister(a.corpus))
	}
	st, err := store.New(store.Config{EmbeddingDim: cfg.Store.EmbeddingDim}, opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = st

	if a.corpus != nil {
		corpus, seq, err := a.corpus.Load(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		if err := st.Restore(corpus); err != nil {
			a.close()
			return nil, fmt.Errorf("restore corpus: %w", err)
		}
		a.reload = job.NewCorpusReloadJob(a.corpus, st, seq)
		a.corpus.OnCommit(a.reload.Committed)
		logutil.GetLogger(ctx).Info("corpus loaded",
			zap.Int64("commit", seq),
			zap.Int("segments", len(corpus.Segments)),
			zap.Int("lexemes", len(corpus.Lexemes)))
	}
	if err := a.declareLanguages(ctx); err != nil {
		a.close()
		return nil, err
	}
	embedder, err := a.buildEmbedder()
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedder = embedder
	return a, nil
}

func (a *app) declareLanguages(ctx context.Context) error {
	if len(a.cfg.Languages) == 0 {
		return nil
	}
	txn, err := a.store.Begin(languageSlug)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	for _, lang := range a.cfg.Languages {
		if err := txn.PutLanguage(model.Language{Code: lang.Code, Name: lang.Name}); err != nil {
			return fmt.Errorf("declare language %s: %w", lang.Code, err)
		}
	}
	if _, err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("commit languages: %w", err)
	}
	return nil
}

func (a *app) buildEmbedder() (ai.IEmbedder, error) {
	if len(a.cfg.Embedding.Providers) == 0 {
		return nil, nil
	}
	items := make([]ai.EmbedderEntry, 0, len(a.cfg.Embedding.Providers))
	for _, p := range a.cfg.Embedding.Providers {
		provider, err := ai.NewEmbedProvider(p.Type, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", p.Name, err)
		}
		embedder := ai.NewEmbedder(provider, p.Model)
		if a.cfg.Embedding.DBCache && a.cache != nil {
			embedder = embedcache.WrapDBCacheToEmbedder(embedder, a.cache)
		}
		if a.cfg.Embedding.LRUSize > 0 {
			embedder = embedcache.WrapLruCacheToEmbedder(embedder, a.cfg.Embedding.LRUSize, time.Duration(a.cfg.Embedding.LRUTTLSeconds)*time.Second)
		}
		items = append(items, ai.EmbedderEntry{Name: p.Name, Embedder: embedder})
	}
	return ai.NewGroupEmbedder(items, a.cfg.Store.EmbeddingDim), nil
}

func (a *app) newIngest() (*service.IngestService, error) {
	files, err := filestore.New(a.cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	return service.NewIngestService(a.store, a.embedder, files), nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) searchers() (retrieval.LexicalSearcher, retrieval.SemanticSearcher) {
	if a.cfg.Retrieval.Backend == "postgres" {
		st := a.store
		pg := repo.NewIndexRepo(a.db, a.cfg.Store.EmbeddingDim, a.cfg.Lexical.Threshold, func() repo.WorkOrdinals {
			return st.Snapshot()
		})
		return pg.Lexical(), pg
	}
	return index.NewLexical(a.store, index.LexicalConfig{Threshold: a.cfg.Lexical.Threshold}),
		index.NewSemantic(a.store, a.cfg.Store.EmbeddingDim)
}

func (a *app) newRetriever() *retrieval.Orchestrator {
	rc := a.cfg.Retrieval
	opts := []retrieval.Option{retrieval.WithEmbedder(a.embedder)}
	if rc.Reranker != "none" {
		st := a.store
		opts = append(opts, retrieval.WithReranker(retrieval.NewOverlapReranker(
			retrieval.RecordSourceFunc(func(entityID string) (*model.IndexRecord, bool) {
				return st.Snapshot().IndexRecord(entityID)
			}))))
	}
	lexical, semantic := a.searchers()
	return retrieval.New(retrieval.Config{
		LexicalTimeout:  time.Duration(rc.LexicalTimeoutMs) * time.Millisecond,
		SemanticTimeout: time.Duration(rc.SemanticTimeoutMs) * time.Millisecond,
		LexicalWeight:   rc.LexicalWeight,
		SemanticWeight:  rc.SemanticWeight,
		RerankThreshold: rc.RerankThreshold,
		RerankDepth:     rc.RerankDepth,
		CacheSize:       rc.CacheSize,
		CacheTTL:        time.Duration(rc.CacheTTLSeconds) * time.Second,
	}, a.store, lexical, semantic, opts...)
}

func (a *app) newAnalyzer() *morph.Analyzer {
	var chain morph.ChainLemmatizer
	if !a.cfg.Fallback.DisableSuffixRules {
		chain = append(chain, morph.NewSuffixLemmatizer(a.store, nil, nil))
	}
	if len(a.cfg.Fallback.Forms) > 0 {
		chain = append(chain, morph.LexiconLemmatizer(a.cfg.Fallback.Forms))
	}
	return morph.NewAnalyzer(morph.NewStoreLookup(a.store), chain)
}

func runIngest(cfg *config.Config, keys []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	ingest, err := a.newIngest()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		_, err = ingest.IngestAll(ctx)
		return err
	}
	for _, key := range keys {
		if _, err := ingest.IngestFile(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.Bool("database", cfg.Database.Enabled()),
		zap.String("retrieval_backend", cfg.Retrieval.Backend),
		zap.String("file_store", cfg.FileStore.Type),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	retriever := a.newRetriever()
	reader := service.NewReaderService(service.ReaderConfig{
		LexiconK:      cfg.Reader.LexiconK,
		GrammarK:      cfg.Reader.GrammarK,
		MaxInputChars: cfg.Reader.MaxInputChars,
	}, a.store, a.newAnalyzer(), retriever, nil)

	scheduler := schedule.NewCronScheduler(schedule.WithJobTimeout(time.Duration(cfg.Jobs.TimeoutSeconds) * time.Second))
	if a.reload != nil && cfg.Jobs.CorpusReload != "" {
		if err := scheduler.AddJob(a.reload, cfg.Jobs.CorpusReload); err != nil {
			return fmt.Errorf("schedule corpus reload: %w", err)
		}
	}
	if a.cache != nil && cfg.Jobs.EmbeddingCacheCleanup != "" {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cache, cfg.Embedding.CacheRetainDays)
		if err := scheduler.AddJob(cleanup, cfg.Jobs.EmbeddingCacheCleanup); err != nil {
			return fmt.Errorf("schedule embedding cache cleanup: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Reader:    handler.NewReaderHandler(reader),
		Retrieve:  handler.NewRetrieveHandler(retriever),
		Corpus:    handler.NewCorpusHandler(a.store),
		RateLimit: time.Duration(cfg.RateLimitMs) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORS.AllowOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
