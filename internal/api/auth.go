// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bcem/helpdesk/internal/models"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "X-API-Key"

const apiKeyContextKey = "apikey"

// KeyStore resolves API keys. Implemented by store.Store.
type KeyStore interface {
	LookupAPIKey(ctx context.Context, key string) (*models.APIKey, error)
}

// APIKeyMiddleware admits requests carrying an active API key bound to the
// caller's address. The resolved key is stored on the context.
func APIKeyMiddleware(keys KeyStore, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper:   skipper,
		KeyLookup: "header:" + APIKeyHeader,
		Validator: func(key string, c echo.Context) (bool, error) {
			k, err := keys.LookupAPIKey(c.Request().Context(), strings.TrimSpace(key))
			if err != nil {
				slog.Error("api key lookup failed", "error", err)
				return false, echo.NewHTTPError(http.StatusServiceUnavailable, "Unable to verify API key")
			}
			if !k.Allows(c.RealIP()) {
				slog.Warn("api key rejected", "ip", c.RealIP())
				return false, nil
			}
			c.Set(apiKeyContextKey, k)
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code == http.StatusServiceUnavailable {
				return c.String(he.Code, "Unable to verify API key")
			}
			return c.String(http.StatusUnauthorized, "API key not authorized")
		},
	})
}

// APIKeyFromContext returns the key admitted by APIKeyMiddleware.
func APIKeyFromContext(c echo.Context) *models.APIKey {
	k, _ := c.Get(apiKeyContextKey).(*models.APIKey)
	return k
}
