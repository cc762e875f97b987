package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"studyrag/internal/ai"
	"studyrag/internal/app"
	"studyrag/internal/cache"
	"studyrag/internal/chunker"
	"studyrag/internal/config"
	"studyrag/internal/model"
	mysqlClient "studyrag/internal/platform/mysql"
	rabbitmqClient "studyrag/internal/platform/rabbitmq"
	redisClient "studyrag/internal/platform/redis"
	"studyrag/internal/repository"
	"studyrag/internal/vectorstore"
	"studyrag/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Store             *vectorstore.Store
	RAGService        *app.RAGService
	AuthService       *app.AuthService
	ConversationCache *cache.ConversationCache
	IngestPublisher   *rabbitmqClient.IngestPublisher
	IngestWorker      *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.StudyDocument{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	llmClient := ai.NewOpenAICompatibleClient(ai.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Dimension:      cfg.Index.Dimension,
		EmbedTimeout:   time.Duration(cfg.LLM.EmbedTimeoutSec) * time.Second,
		GenTimeout:     time.Duration(cfg.LLM.GenerateTimeoutSec) * time.Second,
	})

	store, err := vectorstore.New(cfg.Index.Dimension,
		vectorstore.WithOverfetchFactor(cfg.Index.OverfetchFactor))
	if err != nil {
		return nil, fmt.Errorf("create vector store failed: %w", err)
	}
	if err := store.Load(cfg.Index.DataDir); err != nil {
		return nil, fmt.Errorf("load vector index failed: %w", err)
	}

	chk := chunker.New(
		chunker.WithMaxTokens(cfg.Chunker.MaxTokens),
		chunker.WithMinChunkChars(cfg.Chunker.MinChunkChars),
		chunker.WithContextWindow(cfg.Chunker.ContextWindowChars),
	)

	userRepo := repository.NewUserRepository(mysqlDB)
	docRepo := repository.NewStudyDocumentRepository(mysqlDB)

	pipeline := app.NewEmbeddingPipeline(llmClient, store, cfg.Index.DataDir)
	ragService := app.NewRAGService(docRepo, chk, pipeline, store, llmClient, llmClient,
		app.RAGServiceConfig{
			TopK:              cfg.Query.TopK,
			MinRelevanceScore: cfg.Query.MinRelevanceScore,
			HistoryTurns:      cfg.Query.HistoryTurns,
			DataDir:           cfg.Index.DataDir,
		})
	authService := app.NewAuthService(userRepo, cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute)

	convCache := cache.NewConversationCache(redisCli,
		time.Duration(cfg.Redis.ConversationTTLSeconds)*time.Second)
	ingestPublisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)

	ingestWorker := worker.NewIngestWorker(mqConn, ragService, cfg.RabbitMQ.IngestQueue)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:            cfg,
		MySQL:             mysqlDB,
		Redis:             redisCli,
		MQConn:            mqConn,
		Store:             store,
		RAGService:        ragService,
		AuthService:       authService,
		ConversationCache: convCache,
		IngestPublisher:   ingestPublisher,
		IngestWorker:      ingestWorker,
		StartedAt:         time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
