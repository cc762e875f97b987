package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"studyrag/internal/app"
	"studyrag/internal/platform/rabbitmq"
)

// IngestWorker consumes queued document-ingest jobs and runs the full
// chunk -> embed -> index pipeline off the request path. The index is durably
// saved by the pipeline before a job is acked.
type IngestWorker struct {
	conn       *amqp.Connection
	ragService *app.RAGService
	queueName  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ragService *app.RAGService, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:       conn,
		ragService: ragService,
		queueName:  queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare ingest queue failed: %w", err)
	}

	// One unacked job at a time; ingest is embedding-bound and the vector
	// store write path is single-writer anyway.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume ingest queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job rabbitmq.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("ingest worker decode job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	result, err := w.ragService.Ingest(ctx, app.IngestInput{
		UserID:       job.UserID,
		Name:         job.Name,
		Source:       job.Source,
		Content:      job.Content,
		SyllabusTags: job.SyllabusTags,
	})
	if err != nil {
		log.Printf("ingest worker failed for user %d document %q: %v", job.UserID, job.Name, err)
		_ = d.Nack(false, false)
		return
	}

	log.Printf("ingest worker indexed document %d (%d chunks)", result.Document.ID, result.ChunkCount)
	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
