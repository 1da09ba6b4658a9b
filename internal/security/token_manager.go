package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RotateFunc discards whatever holds an expiring credential, typically the
// connection pool of a data source, so the next use authenticates again
type RotateFunc func(ctx context.Context, source string) error

// TokenManager recycles data sources whose connection credentials expire,
// such as RDS IAM tokens, shortly before they do
type TokenManager struct {
	rotate         RotateFunc
	logger         *slog.Logger
	rotationCheck  time.Duration
	rotationBuffer time.Duration
	now            func() time.Time

	rotations   map[string]*tokenRotation
	rotationsMu sync.Mutex
	stopChan    chan struct{}
	stopOnce    sync.Once
}

type tokenRotation struct {
	expiresAt time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(rotate RotateFunc, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		rotate:         rotate,
		logger:         logger,
		rotationCheck:  time.Minute,
		rotationBuffer: 5 * time.Minute,
		now:            time.Now,
		rotations:      make(map[string]*tokenRotation),
		stopChan:       make(chan struct{}),
	}
}

// RegisterToken records that source's credential expires at expiresAt
func (tm *TokenManager) RegisterToken(source string, expiresAt time.Time) {
	tm.rotationsMu.Lock()
	defer tm.rotationsMu.Unlock()

	if r, ok := tm.rotations[source]; ok {
		r.expiresAt = expiresAt
		return
	}
	tm.rotations[source] = &tokenRotation{expiresAt: expiresAt}
}

// Start begins the background rotation checker
func (tm *TokenManager) Start(ctx context.Context) {
	ticker := time.NewTicker(tm.rotationCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.stopChan:
			return
		case <-ticker.C:
			tm.checkAndRotateTokens(ctx)
		}
	}
}

// Stop stops the background rotation checker
func (tm *TokenManager) Stop() {
	tm.stopOnce.Do(func() { close(tm.stopChan) })
}

// checkAndRotateTokens rotates every source expiring within the buffer
func (tm *TokenManager) checkAndRotateTokens(ctx context.Context) {
	now := tm.now()

	tm.rotationsMu.Lock()
	var due []string
	for source, rotation := range tm.rotations {
		if rotation.expiresAt.Sub(now) < tm.rotationBuffer {
			due = append(due, source)
		}
	}
	tm.rotationsMu.Unlock()

	for _, source := range due {
		tm.RotateToken(ctx, source)
	}
}

// RotateToken recycles one source now. The source is forgotten until its
// next credential is registered.
func (tm *TokenManager) RotateToken(ctx context.Context, source string) {
	tm.rotationsMu.Lock()
	_, ok := tm.rotations[source]
	delete(tm.rotations, source)
	tm.rotationsMu.Unlock()

	if !ok {
		return
	}

	if err := tm.rotate(ctx, source); err != nil {
		tm.logger.Warn("credential rotation failed", "datasource", source, "error", err)
		return
	}
	tm.logger.Info("credential rotated", "datasource", source)
}

// Pending returns the sources currently tracked
func (tm *TokenManager) Pending() map[string]time.Time {
	tm.rotationsMu.Lock()
	defer tm.rotationsMu.Unlock()

	out := make(map[string]time.Time, len(tm.rotations))
	for source, r := range tm.rotations {
		out[source] = r.expiresAt
	}
	return out
}
