package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"chart-gateway/internal/utils"
	"chart-gateway/pkg/response"
)

// RateLimiterConfig configuration for rate limiting
type RateLimiterConfig struct {
	// Requests per minute
	RPM int `json:"rpm" mapstructure:"rpm"`
	// Burst size
	Burst int `json:"burst" mapstructure:"burst"`
	// Cleanup interval for inactive clients
	CleanupInterval time.Duration `json:"cleanupInterval" mapstructure:"cleanup_interval"`
}

// DefaultRateLimiterConfig returns default configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RPM:             600,
		Burst:           50,
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiter limits requests per client with a token bucket each
type RateLimiter struct {
	config   RateLimiterConfig
	clients  map[string]*ClientLimiter
	mutex    sync.Mutex
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// ClientLimiter represents rate limiter for a specific client
type ClientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop. Call
// Stop to end the loop.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.RPM <= 0 {
		config.RPM = defaults.RPM
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	rl := &RateLimiter{
		config:   config,
		clients:  make(map[string]*ClientLimiter),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// RateLimit creates a rate limiting middleware
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := rl.clientLimiter(rl.getClientID(c))

		if !client.limiter.Allow() {
			rl.rateLimitExceeded(c)
			return
		}

		remaining := int(math.Max(0, math.Floor(client.limiter.Tokens())))
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.RPM))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func (rl *RateLimiter) clientLimiter(clientID string) *ClientLimiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	client, exists := rl.clients[clientID]
	if !exists {
		client = &ClientLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.config.RPM)), rl.config.Burst),
		}
		rl.clients[clientID] = client
	}
	client.lastSeen = rl.now()
	return client
}

// getClientID extracts client identifier for rate limiting
func (rl *RateLimiter) getClientID(c *gin.Context) string {
	// authenticated user, then API key, then address
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		return "apikey:" + apiKey
	}

	clientIP := c.ClientIP()
	if clientIP == "" {
		clientIP = "unknown"
	}
	return "ip:" + clientIP
}

// rateLimitExceeded handles rate limit exceeded scenario
func (rl *RateLimiter) rateLimitExceeded(c *gin.Context) {
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unmatched"
	}
	RecordRateLimited(endpoint)

	c.Header("Retry-After", "60")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, response.ErrorResponse(
		utils.ErrCodeRateLimitExceeded,
		"Rate limit exceeded: maximum "+strconv.Itoa(rl.config.RPM)+" requests per minute",
		GetCorrelationID(c),
	))
}

// cleanup removes inactive clients
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for clientID, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.config.CleanupInterval {
			delete(rl.clients, clientID)
		}
	}
}

// GetStats returns current rate limiting statistics
func (rl *RateLimiter) GetStats() RateLimitStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return RateLimitStats{
		ActiveClients: len(rl.clients),
		Config:        rl.config,
	}
}

// RateLimitStats contains rate limiting statistics
type RateLimitStats struct {
	ActiveClients int               `json:"activeClients"`
	Config        RateLimiterConfig `json:"config"`
}

// EndpointRateLimiter applies a dedicated limiter to selected routes and a
// default limiter to the rest
type EndpointRateLimiter struct {
	fallback *RateLimiter
	limiters map[string]*RateLimiter
	mutex    sync.RWMutex
}

// NewEndpointRateLimiter creates an endpoint rate limiter
func NewEndpointRateLimiter(fallback RateLimiterConfig) *EndpointRateLimiter {
	return &EndpointRateLimiter{
		fallback: NewRateLimiter(fallback),
		limiters: make(map[string]*RateLimiter),
	}
}

// AddEndpoint adds rate limiting for a specific route pattern
func (erl *EndpointRateLimiter) AddEndpoint(path string, config RateLimiterConfig) {
	erl.mutex.Lock()
	defer erl.mutex.Unlock()

	if existing, ok := erl.limiters[path]; ok {
		existing.Stop()
	}
	erl.limiters[path] = NewRateLimiter(config)
}

func (erl *EndpointRateLimiter) limiterFor(path string) *RateLimiter {
	erl.mutex.RLock()
	defer erl.mutex.RUnlock()

	if limiter, exists := erl.limiters[path]; exists {
		return limiter
	}
	return erl.fallback
}

// RateLimitByPath selects the limiter by the matched route pattern
func (erl *EndpointRateLimiter) RateLimitByPath() gin.HandlerFunc {
	return func(c *gin.Context) {
		erl.limiterFor(c.FullPath()).RateLimit()(c)
	}
}

// Stop ends every limiter's cleanup loop
func (erl *EndpointRateLimiter) Stop() {
	erl.mutex.Lock()
	defer erl.mutex.Unlock()

	erl.fallback.Stop()
	for _, limiter := range erl.limiters {
		limiter.Stop()
	}
}
