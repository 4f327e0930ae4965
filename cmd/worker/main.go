package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"stagehand/internal/adapter/repo"
	"stagehand/internal/domain"
	"stagehand/internal/engine"
	"stagehand/internal/imagegen"
	"stagehand/internal/infra"
	"stagehand/internal/storage"
	"stagehand/internal/worker"
)

// transformer runs one generation to its terminal state. The model call
// itself is a stand-in: the instruction is assembled for the external
// model and the source image is re-published as the result.
type transformer struct {
	gens   domain.GenerationRepository
	store  engine.ObjectStore
	logger zerolog.Logger
	client *http.Client
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect broker")
	}
	defer conn.Close()

	consumer, err := worker.NewConsumer(conn, cfg.AMQPExchange, cfg.AMQPRoutingKey, cfg.AMQPQueue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind queue")
	}

	tf := &transformer{
		gens:   repo.NewGenerationRepository(dbpool),
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: 60 * time.Second},
	}

	logger.Info().Str("queue", cfg.AMQPQueue).Msg("worker consuming")
	if err := consumer.Consume(ctx, tf.handle); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("worker stopped")
}

func (t *transformer) handle(ctx context.Context, req engine.InvokeRequest) error {
	gen, err := t.gens.GetByID(ctx, req.GenerationID)
	if err != nil {
		// Unknown generations are dropped, not retried.
		t.logger.Warn().Err(err).Str("generation_id", req.GenerationID).Msg("worker: unknown generation")
		return nil
	}
	if gen.Status.Terminal() {
		return nil
	}

	if err := t.gens.UpdateStatus(ctx, gen.ID, domain.StatusProcessing, nil); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	prompt := gen.Prompt
	if req.PromptOverride != "" {
		prompt = req.PromptOverride
	}
	instruction := imagegen.BuildInstruction(modeOf(gen), gen.Style, prompt, req.IsRefinement)
	t.logger.Info().
		Str("generation_id", gen.ID).
		Str("instruction", instruction).
		Msg("worker: transforming")

	url, err := t.transform(ctx, gen)
	if err != nil {
		t.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("worker: transform failed")
		if uerr := t.gens.UpdateStatus(ctx, gen.ID, domain.StatusFailed, nil); uerr != nil {
			t.logger.Error().Err(uerr).Str("generation_id", gen.ID).Msg("worker: could not mark failed")
		}
		return nil
	}

	if err := t.gens.UpdateStatus(ctx, gen.ID, domain.StatusCompleted, &url); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	t.logger.Info().Str("generation_id", gen.ID).Msg("worker: completed")
	return nil
}

// transform resolves the source image and publishes the result under a
// generated/ key. Until the model integration lands the result is the
// source image itself.
func (t *transformer) transform(ctx context.Context, gen *domain.Generation) (string, error) {
	data, contentType, err := t.fetchSource(ctx, gen.OriginalURL)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("generated/%s/%s.png", gen.UserID, gen.ID)
	url, err := t.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", fmt.Errorf("publish result: %w", err)
	}
	return url, nil
}

func (t *transformer) fetchSource(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		rest := strings.TrimPrefix(ref, "data:")
		idx := strings.Index(rest, ";base64,")
		if idx < 0 {
			return nil, "", fmt.Errorf("unsupported data uri")
		}
		data, err := base64.StdEncoding.DecodeString(rest[idx+len(";base64,"):])
		if err != nil {
			return nil, "", fmt.Errorf("decode data uri: %w", err)
		}
		return data, rest[:idx], nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

func modeOf(gen *domain.Generation) domain.Mode {
	if gen.Metadata != nil {
		if m, ok := gen.Metadata["mode"].(string); ok {
			return domain.Mode(m)
		}
	}
	return domain.ModeStaging
}

func newStore(cfg *infra.Config) (engine.ObjectStore, error) {
	if cfg.StorageDriver == "filesystem" {
		return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	}
	return storage.NewObjectStore(context.Background(), storage.ObjectStoreConfig{
		Endpoint:   cfg.MinioEndpoint,
		AccessKey:  cfg.MinioAccessKey,
		SecretKey:  cfg.MinioSecretKey,
		Bucket:     cfg.MinioBucket,
		UseSSL:     cfg.MinioUseSSL,
		PublicBase: cfg.MinioPublicBase,
	})
}
