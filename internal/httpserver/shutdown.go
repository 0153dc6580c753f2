package httpserver

import (
	"context"
	"time"
)

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	// DefaultWriteTimeout covers a full multipart upload to the media store.
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// ShutdownWithin drains s, giving in-flight requests at most timeout. The
// caller's context is usually already cancelled, so a fresh one is used.
func ShutdownWithin(s *Server, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}
