package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyHelpers_IgnoreForeignTypes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatalf("fresh context should carry no idempotency state")
	}
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatalf("non-string key or non-bool flag must read as absent")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("IsReplay should be true")
	}
}

func TestIdempotencyValidator_HeaderValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		opts    IdempotencyOptions
		header  string
		want    int
		wantKey string
	}{
		{"absent", IdempotencyOptions{}, "", http.StatusOK, ""},
		{"default pattern", IdempotencyOptions{}, "abc-123", http.StatusOK, "abc-123"},
		{"surrounding space trimmed", IdempotencyOptions{}, "  retry:7 ", http.StatusOK, "retry:7"},
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef", http.StatusBadRequest, ""},
		{"default max", IdempotencyOptions{}, strings.Repeat("k", 201), http.StatusBadRequest, ""},
		{"inner space", IdempotencyOptions{}, "has space", http.StatusBadRequest, ""},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID(), IdempotencyValidator(tc.opts, nil))
			r.POST("/conversations/:id/messages", func(c *gin.Context) {
				key, _ := GetIdempotencyKey(c)
				if key != tc.wantKey {
					t.Fatalf("key = %q, want %q", key, tc.wantKey)
				}
				if IsReplay(c) || IsRateBypass(c) {
					t.Fatalf("no lookup, so no replay")
				}
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", nil)
			if tc.header != "" {
				req.Header.Set(HeaderIdempotencyKey, tc.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusBadRequest {
				var body map[string]any
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("invalid json: %v", err)
				}
				if body["code"] != "bad_idempotency_key" || body["request_id"] == "" {
					t.Fatalf("unexpected body: %v", body)
				}
			}
		})
	}
}

func TestIdempotencyValidator_Valid_WithLookup_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("anonymous request skips lookup", func(t *testing.T) {
		r := gin.New()
		called := false
		lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
			called = true
			return true, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/groups/:id/messages", func(c *gin.Context) {
			if IsReplay(c) || IsRateBypass(c) {
				t.Fatalf("anonymous requests must never replay")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/groups/g1/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK || called {
			t.Fatalf("code=%d called=%v", w.Code, called)
		}
	})

	t.Run("lookup miss and error continue without replay", func(t *testing.T) {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set("userID", "u1"); c.Next() })
		lookup := func(_ context.Context, userID, scope, key string, now time.Time) (bool, error) {
			if userID != "u1" || key == "" || now.IsZero() {
				t.Fatalf("lookup args not populated: uid=%q key=%q now=%v", userID, key, now)
			}
			if scope != "group:g42" {
				t.Fatalf("expected custom scope group:g42, got %q", scope)
			}
			if key == "key-err" {
				return false, errors.New("db down")
			}
			return false, nil
		}
		opts := IdempotencyOptions{Scope: func(c *gin.Context) string { return "group:" + c.Param("id") }}
		r.Use(IdempotencyValidator(opts, lookup))
		r.POST("/groups/:id/messages", func(c *gin.Context) {
			if IsReplay(c) || IsRateBypass(c) {
				t.Fatalf("expected no replay/bypass on miss")
			}
			c.Status(http.StatusOK)
		})

		for _, k := range []string{"key-1", "key-err"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/groups/g42/messages", nil)
			req.Header.Set(HeaderIdempotencyKey, k)
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", k, w.Code)
			}
		}
	})

	t.Run("lookup hit sets replay and bypass, passes user id", func(t *testing.T) {
		r := gin.New()
		// inject user before idempotency middleware
		r.Use(func(c *gin.Context) { c.Set("userID", "u9"); c.Next() })
		lookup := func(_ context.Context, userID, scope, key string, _ time.Time) (bool, error) {
			if userID != "u9" {
				t.Fatalf("expected userID u9, got %q", userID)
			}
			if scope != "abc" || key != "k-9" {
				t.Fatalf("unexpected scope/key: %q %q", scope, key)
			}
			return true, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/conversations/:id/messages", func(c *gin.Context) {
			if !IsReplay(c) {
				t.Fatalf("expected IsReplay=true on hit")
			}
			if !IsRateBypass(c) {
				t.Fatalf("expected IsRateBypass=true on hit")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/conversations/abc/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("hit: expected 200, got %d", w.Code)
		}
	})
}
