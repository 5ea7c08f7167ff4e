package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	// idempotencyLockTTL covers one request; a crashed handler frees the key.
	idempotencyLockTTL = 30 * time.Second
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on mutating requests, so a flaky mobile connection that
// retries "request ride" does not create two rides. Keys are scoped to the
// route. A retry that arrives while the first attempt is still running gets
// 409.
func IdempotencyMiddleware(client *redis.Client, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" || client == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := "idempotency:" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		lockKey := cacheKey + ":lock"

		cached, err := getCachedResponse(ctx, client, cacheKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			// Redis trouble must not block ride requests.
			log.Warn("idempotency_lookup_failed", "error", err)
			c.Next()
			return
		}
		if cached != nil {
			replay(c, cached)
			return
		}

		acquired, err := client.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
		if err != nil {
			log.Warn("idempotency_lock_failed", "error", err)
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}
		defer client.Del(context.WithoutCancel(ctx), lockKey)

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		// Server errors are not replayed; the client may retry them.
		if status := c.Writer.Status(); status >= 200 && status < 500 {
			response := cachedResponse{
				StatusCode: status,
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			if err := setCachedResponse(context.WithoutCancel(ctx), client, cacheKey, &response, idempotencyTTL); err != nil {
				log.Warn("idempotency_store_failed", "error", err)
			}
		}
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func replay(c *gin.Context, cached *cachedResponse) {
	for k, v := range cached.Headers {
		for _, val := range v {
			c.Header(k, val)
		}
	}
	c.Header("Idempotent-Replayed", "true")
	if len(cached.Body) == 0 {
		c.AbortWithStatus(cached.StatusCode)
		return
	}
	c.Data(cached.StatusCode, "application/json", cached.Body)
	c.Abort()
}

// getCachedResponse retrieves a cached response from Redis.
func getCachedResponse(ctx context.Context, client *redis.Client, key string) (*cachedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	return &cached, nil
}

// setCachedResponse stores a response in Redis.
func setCachedResponse(ctx context.Context, client *redis.Client, key string, response *cachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return client.Set(ctx, key, data, ttl).Err()
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	// Only cache Content-Type header.
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
