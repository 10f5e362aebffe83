package middleware

import (
	"time"

	applogger "SignalFeed/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each request at debug level and failed requests at warn.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)),
			}
			if err != nil {
				l.Warn("http request error", append(fields, applogger.Error(err))...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
