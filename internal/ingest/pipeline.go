package ingest

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"knowbase/internal/chunker"
	"knowbase/internal/walker"
)

// Stats reports directory ingestion results.
type Stats struct {
	FilesTotal    int
	FilesIngested int
	FilesSkipped  int
	ChunksTotal   int
}

// ProgressFunc receives progress updates during directory ingestion.
type ProgressFunc func(label string, done, total int)

// fileWork is a file that needs to be (re-)ingested.
type fileWork struct {
	info    walker.FileInfo
	hash    string
	content string
}

// chunkBatch is the chunks extracted from a single file.
type chunkBatch struct {
	work   fileWork
	chunks []chunker.Chunk
}

// embeddedBatch has chunks with their embeddings ready to store.
type embeddedBatch struct {
	work       fileWork
	chunks     []chunker.Chunk
	embeddings [][]float32
}

// ProcessDir walks root and ingests every file with a registered extension.
// Stages run concurrently: walk, hash and change-check, chunk, embed, store.
// Embedding and storing are single workers so remote batches stay ordered
// and the backend sees one writer.
func (p *Pipeline) ProcessDir(ctx context.Context, root string, onProgress ProgressFunc) (*Stats, error) {
	numWorkers := p.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	var stats Stats
	var filesTotal atomic.Int64

	// Stage 1: Walk (only files with registered extensions)
	fileCh, walkErrCh := walker.Walk(root, p.Registry.Extensions())

	// Stage 2: Read + hash + change check (N workers)
	workCh := make(chan fileWork, numWorkers)
	var hashWg sync.WaitGroup
	for range numWorkers {
		hashWg.Add(1)
		go func() {
			defer hashWg.Done()
			for fi := range fileCh {
				filesTotal.Add(1)
				src, err := os.ReadFile(fi.Path)
				if err != nil {
					continue
				}
				content := string(src)
				hash := contentHash(content)

				if p.SkipUnchanged {
					existing, err := p.Backend.GetDocument(ctx, fi.RelPath)
					if err == nil && existing != nil && existing.ContentHash == hash {
						continue // unchanged
					}
				}

				workCh <- fileWork{info: fi, hash: hash, content: content}
			}
		}()
	}
	go func() {
		hashWg.Wait()
		close(workCh)
	}()

	// Stage 3: Chunk (N workers)
	chunkCh := make(chan chunkBatch, numWorkers)
	var chunkWg sync.WaitGroup
	for range numWorkers {
		chunkWg.Add(1)
		go func() {
			defer chunkWg.Done()
			for w := range workCh {
				splitter := p.Registry.Lookup(w.info.RelPath)
				chunks := splitter.Split(w.content)
				if len(chunks) > 0 {
					chunkCh <- chunkBatch{work: w, chunks: chunks}
				}
			}
		}()
	}
	go func() {
		chunkWg.Wait()
		close(chunkCh)
	}()

	// Stage 4: Embed (1 worker)
	embeddedCh := make(chan embeddedBatch, 4)
	var embedErr error
	var embedWg sync.WaitGroup
	embedWg.Add(1)
	go func() {
		defer embedWg.Done()
		defer close(embeddedCh)

		for batch := range chunkCh {
			// After a failure keep draining so the chunk and hash workers
			// (and the walker behind them) can finish instead of blocking
			// on full channels.
			if embedErr != nil {
				continue
			}
			embeddings, err := p.embedChunks(ctx, batch.chunks)
			if err != nil {
				fmt.Fprintf(os.Stderr, "embed error %s: %v\n", batch.work.info.RelPath, err)
				embedErr = err
				continue
			}
			embeddedCh <- embeddedBatch{
				work:       batch.work,
				chunks:     batch.chunks,
				embeddings: embeddings,
			}
		}
	}()

	// Stage 5: Store (1 worker)
	var storeErr error
	var storeWg sync.WaitGroup
	storeWg.Add(1)
	go func() {
		defer storeWg.Done()

		for eb := range embeddedCh {
			splitter := p.Registry.Lookup(eb.work.info.RelPath)
			doc := buildDocument(eb.work.info.RelPath, eb.work.content, eb.work.hash, splitter.Name())
			docID, err := p.Backend.StoreDocument(ctx, doc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "store document error %s: %v\n", eb.work.info.RelPath, err)
				storeErr = err
				continue
			}

			stored := 0
			for i, c := range eb.chunks {
				_, err := p.Backend.StoreChunk(ctx, docID, chunkRecord(doc, c, eb.embeddings[i]))
				if err != nil {
					fmt.Fprintf(os.Stderr, "store chunk error %s[%d]: %v\n", eb.work.info.RelPath, c.Index, err)
					storeErr = err
					break
				}
				stored++
			}

			stats.FilesIngested++
			stats.ChunksTotal += stored
			if onProgress != nil {
				onProgress("Ingesting files...", stats.FilesIngested, int(filesTotal.Load()))
			}
		}
	}()

	// Wait for all stages to complete.
	storeWg.Wait()
	embedWg.Wait()

	// Check walk errors.
	if err := <-walkErrCh; err != nil {
		return nil, fmt.Errorf("walk error: %w", err)
	}

	stats.FilesTotal = int(filesTotal.Load())
	stats.FilesSkipped = stats.FilesTotal - stats.FilesIngested

	if embedErr != nil {
		return &stats, fmt.Errorf("embedding failed: %w", embedErr)
	}
	if storeErr != nil {
		return &stats, fmt.Errorf("storage failed: %w", storeErr)
	}

	return &stats, nil
}
