package metadatacache

import (
	"context"
	"fmt"
	"sync"
)

// Hybrid writes to local first (fast, synchronous) and queues an async sync
// to S3 (durable backup); reads prefer local and fall back to S3.
type Hybrid struct {
	local *Local
	s3    *S3

	syncQueue chan syncJob
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type syncJob struct {
	key  string
	data []byte
}

func NewHybrid(local *Local, s3 *S3) *Hybrid {
	h := &Hybrid{
		local:     local,
		s3:        s3,
		syncQueue: make(chan syncJob, 100),
		stopCh:    make(chan struct{}),
	}
	const workers = 4
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go h.syncWorker()
	}
	return h
}

// Close stops the background sync workers, draining the queue first.
func (h *Hybrid) Close() {
	h.stopOnce.Do(func() {
		close(h.syncQueue)
	})
	h.wg.Wait()
}

func (h *Hybrid) syncWorker() {
	defer h.wg.Done()
	for job := range h.syncQueue {
		ctx := context.Background()
		if err := h.s3.Put(ctx, job.key, job.data); err != nil {
			continue
		}
	}
}

func (h *Hybrid) Put(ctx context.Context, key string, data []byte) error {
	if err := h.local.Put(ctx, key, data); err != nil {
		return fmt.Errorf("metadatacache: hybrid local put %q: %w", key, err)
	}
	select {
	case h.syncQueue <- syncJob{key: key, data: data}:
	default:
		// Sync queue full; local write already succeeded, S3 backup is
		// best-effort so a full queue doesn't block the caller.
	}
	return nil
}

func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := h.local.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	data, s3Err := h.s3.Get(ctx, key)
	if s3Err != nil {
		return nil, fmt.Errorf("metadatacache: hybrid get %q failed on both backends: local=%v s3=%v", key, err, s3Err)
	}
	_ = h.local.Put(ctx, key, data)
	return data, nil
}

func (h *Hybrid) Delete(ctx context.Context, key string) error {
	localErr := h.local.Delete(ctx, key)
	s3Err := h.s3.Delete(ctx, key)
	if localErr != nil && s3Err != nil {
		return fmt.Errorf("metadatacache: hybrid delete %q failed on both backends: local=%v s3=%v", key, localErr, s3Err)
	}
	return nil
}

func (h *Hybrid) Exists(ctx context.Context, key string) (bool, error) {
	if exists, err := h.local.Exists(ctx, key); err == nil && exists {
		return true, nil
	}
	return h.s3.Exists(ctx, key)
}
