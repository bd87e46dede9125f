package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/metrics"
	"github.com/JakeFAU/web-researcher/internal/progress"
)

// indexWorker consumes extracted documents until docs closes. It returns a
// non-nil error only for failures that must abort the crawl.
func (c *Coordinator) indexWorker(ctx context.Context, s *session, docs <-chan crawler.Extraction) error {
	metrics.IncActiveWorkers("index")
	defer metrics.DecActiveWorkers("index")
	for extraction := range docs {
		if ctx.Err() != nil {
			s.fail(extraction.Document.URL, crawler.StageIndex, errCrawlAborted)
			continue
		}
		if err := c.indexDocument(ctx, s, extraction.Document); err != nil {
			if errors.Is(err, crawler.ErrDimensionMismatch) {
				s.fail(extraction.Document.URL, crawler.StageIndex, err)
				return err
			}
			stage := crawler.StageIndex
			if errors.Is(err, crawler.ErrEmbedderUnavailable) {
				stage = crawler.StageEmbed
			}
			s.fail(extraction.Document.URL, stage, err)
			metrics.ObservePage(extraction.Document.URL, "failed", 0)
			c.deps.Events.Emit(progress.Event{
				SessionID: s.id, Stage: progress.StageTargetFailed, URL: extraction.Document.URL,
				Host: crawler.Hostname(extraction.Document.URL), Reason: string(stage),
				Note: err.Error(),
			})
			c.logger.Warn("document not indexed",
				zap.String("session_id", s.id),
				zap.String("url", extraction.Document.URL),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *Coordinator) indexDocument(ctx context.Context, s *session, doc crawler.Document) (err error) {
	ctx, span := c.deps.Tracer.Start(ctx, "coordinator.indexDocument", trace.WithAttributes(
		attribute.String("document.url", doc.URL),
		attribute.String("document.id", doc.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := c.deps.Clock.Now()
	chunks := c.deps.Chunker.Chunk(doc)
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.ID, err)
	}

	extractedAt := doc.ExtractedAt.UTC().Format(time.RFC3339Nano)
	for i, ch := range chunks {
		meta := crawler.Metadata{
			crawler.MetaURL:         doc.URL,
			crawler.MetaTitle:       doc.Title,
			crawler.MetaDocumentID:  doc.ID,
			crawler.MetaChunkIndex:  strconv.Itoa(ch.Index),
			crawler.MetaCharStart:   strconv.Itoa(ch.CharStart),
			crawler.MetaCharEnd:     strconv.Itoa(ch.CharEnd),
			crawler.MetaText:        ch.Text,
			crawler.MetaExtractedAt: extractedAt,
		}
		if err = c.insert(ctx, ch.ID, vectors[i], meta); err != nil {
			return err
		}
	}

	s.update(func(sum *crawler.Summary) {
		sum.PagesIndexed++
		sum.ChunksIndexed += len(chunks)
	})
	metrics.AddChunksIndexed(len(chunks))
	metrics.ObservePage(doc.URL, "indexed", 0)
	dur := c.deps.Clock.Now().Sub(start)
	c.deps.Events.Emit(progress.Event{
		SessionID: s.id, Stage: progress.StageDocIndexed, URL: doc.URL,
		Host: crawler.Hostname(doc.URL), Chunks: len(chunks), Dur: max(dur, 0),
	})
	c.logger.Debug("document indexed",
		zap.String("session_id", s.id),
		zap.String("url", doc.URL),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)
	span.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	c.publish(ctx, s, doc, len(chunks))
	return nil
}

// insert upserts one chunk, retrying while the index reports itself
// unavailable.
func (c *Coordinator) insert(ctx context.Context, chunkID string, vec crawler.Vector, meta crawler.Metadata) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.deps.Index.Insert(ctx, chunkID, vec, meta)
		if err == nil {
			return nil
		}
		if !errors.Is(err, crawler.ErrIndexUnavailable) || attempt >= c.indexRetry.MaxAttempts() {
			break
		}
		wait := c.indexRetry.Backoff(attempt)
		c.logger.Debug("index unavailable, retrying",
			zap.String("chunk_id", chunkID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := c.deps.Sleeper.Sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("insert %s: %w", chunkID, sleepErr)
		}
	}
	return fmt.Errorf("insert %s: %w", chunkID, err)
}

func (c *Coordinator) publish(ctx context.Context, s *session, doc crawler.Document, chunks int) {
	if c.deps.Publisher == nil || c.cfg.NotifyTopic == "" {
		return
	}
	payload := map[string]any{
		"session_id":  s.id,
		"document_id": doc.ID,
		"url":         doc.URL,
		"title":       doc.Title,
		"chunks":      chunks,
		"indexed_at":  c.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	id, err := c.deps.Publisher.Publish(ctx, c.cfg.NotifyTopic, payload)
	if err != nil {
		c.logger.Warn("publish notification failed", zap.String("url", doc.URL), zap.Error(err))
		return
	}
	c.logger.Debug("document published", zap.String("url", doc.URL), zap.String("message_id", id))
}
