// Package admintest provides an in-memory stand-in for the Caddy admin API.
//
// It implements the subset of Caddy's config traversal that route management
// uses (GET/POST/PUT/PATCH/DELETE on /config/ and /id/, POST /load), rejects
// duplicate @id values the way Caddy does, and can inject faults.
package admintest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// Server is a fake Caddy admin endpoint backed by httptest.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	root          any
	unavailable   bool
	ignoreDeletes bool
	failIDs       map[string]bool
	requests      []string
}

// New starts a server with an empty config and closes it when tb finishes.
func New(tb testing.TB) *Server {
	tb.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{failIDs: map[string]bool{}}

	engine := gin.New()
	engine.Use(s.record(), s.faults())
	engine.GET("/config/*path", s.handleConfig)
	engine.POST("/config/*path", s.handleConfig)
	engine.PUT("/config/*path", s.handleConfig)
	engine.PATCH("/config/*path", s.handleConfig)
	engine.DELETE("/config/*path", s.handleConfig)
	engine.GET("/id/*path", s.handleID)
	engine.POST("/id/*path", s.handleID)
	engine.PUT("/id/*path", s.handleID)
	engine.PATCH("/id/*path", s.handleID)
	engine.DELETE("/id/*path", s.handleID)
	engine.POST("/load", s.handleLoad)

	s.Server = httptest.NewServer(engine)
	tb.Cleanup(s.Close)
	return s
}

// SetUnavailable makes every request fail with 503.
func (s *Server) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// IgnoreDeletes acknowledges deletes without applying them.
func (s *Server) IgnoreDeletes(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreDeletes = v
}

// FailID makes any request addressing id, or posting an object tagged with
// id, fail with 503.
func (s *Server) FailID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs[id] = true
}

// ClearFailures undoes every FailID.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs = map[string]bool{}
}

// Seed replaces the config with v, which must be JSON-compatible.
func (s *Server) Seed(tb testing.TB, v any) {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("admintest: seed: %v", err)
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		tb.Fatalf("admintest: seed: %v", err)
	}
	if _, err := indexIDs(root); err != nil {
		tb.Fatalf("admintest: seed: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
}

// Config returns a copy of the current config.
func (s *Server) Config() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.root)
}

// IDs lists every @id in the config, sorted.
func (s *Server) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _ := indexIDs(s.root)
	out := make([]string, 0, len(idx))
	for id := range idx {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CountID counts objects tagged with id. Caddy forbids more than one, so
// anything above 1 means the config could never have loaded.
func (s *Server) CountID(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	walk(s.root, nil, func(obj map[string]any, _ []string) {
		if obj["@id"] == id {
			n++
		}
	})
	return n
}

// Upstreams returns the dial addresses of the route tagged with id.
func (s *Server) Upstreams(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	walk(s.root, nil, func(obj map[string]any, _ []string) {
		if obj["@id"] != id {
			return
		}
		handles, _ := obj["handle"].([]any)
		for _, h := range handles {
			hm, _ := h.(map[string]any)
			ups, _ := hm["upstreams"].([]any)
			for _, u := range ups {
				um, _ := u.(map[string]any)
				if dial, ok := um["dial"].(string); ok {
					out = append(out, dial)
				}
			}
		}
	})
	return out
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) faults() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		unavailable := s.unavailable
		failed := false
		if rest, ok := strings.CutPrefix(c.Request.URL.Path, "/id/"); ok {
			id, _, _ := strings.Cut(rest, "/")
			failed = s.failIDs[id]
		}
		s.mu.Unlock()

		if unavailable || failed {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin endpoint unavailable"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleConfig(c *gin.Context) {
	keys := splitKeys(c.Param("path"))
	s.serve(c, append([]string{"config"}, keys...))
}

func (s *Server) handleID(c *gin.Context) {
	parts := splitKeys(c.Param("path"))
	if len(parts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing object ID"})
		return
	}
	id := parts[0]

	s.mu.Lock()
	idx, _ := indexIDs(s.root)
	path, ok := idx[id]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown object ID '%s'", id)})
		return
	}

	keys := append([]string{"config"}, path...)
	s.serve(c, append(keys, parts[1:]...))
}

func (s *Server) handleLoad(c *gin.Context) {
	val, ok := s.decodeBody(c)
	if !ok {
		return
	}
	if _, err := indexIDs(val); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loading config: " + err.Error()})
		return
	}
	s.mu.Lock()
	s.root = val
	s.mu.Unlock()
	c.Status(http.StatusOK)
}

func (s *Server) serve(c *gin.Context, keys []string) {
	method := c.Request.Method

	var val any
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		var ok bool
		if val, ok = s.decodeBody(c); !ok {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if method == http.MethodDelete && s.ignoreDeletes {
		c.Status(http.StatusOK)
		return
	}

	if method == http.MethodGet {
		container := map[string]any{"config": s.root}
		out, status, msg := access(container, method, keys, nil)
		if status != http.StatusOK {
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	container := map[string]any{"config": deepCopy(s.root)}
	if _, status, msg := access(container, method, keys, val); status != http.StatusOK {
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if _, err := indexIDs(container["config"]); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loading new config: " + err.Error()})
		return
	}
	s.root = container["config"]
	c.Status(http.StatusOK)
}

func (s *Server) decodeBody(c *gin.Context) (any, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return nil, false
	}
	var val any
	if err := json.Unmarshal(data, &val); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decoding request body: " + err.Error()})
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := val.(map[string]any); ok {
		if id, ok := obj["@id"].(string); ok && s.failIDs[id] {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin endpoint unavailable"})
			return nil, false
		}
	}
	return val, true
}

// access walks keys from root and applies method at the end, following the
// rules of Caddy's config traversal. It returns the value read for GET.
func access(root map[string]any, method string, keys []string, val any) (any, int, string) {
	var ptr any = root
	set := func(any) {}
	fullPath := "/" + strings.Join(keys, "/")

	for i, key := range keys {
		last := i == len(keys)-1

		switch v := ptr.(type) {
		case map[string]any:
			if last {
				existing, exists := v[key]
				switch method {
				case http.MethodGet:
					return existing, http.StatusOK, ""
				case http.MethodPost:
					if arr, ok := existing.([]any); ok {
						if _, nested := val.([]any); nested {
							return nil, http.StatusBadRequest, nestedArrayMsg(fullPath)
						}
						v[key] = append(arr, val)
					} else {
						v[key] = val
					}
				case http.MethodPut:
					if exists {
						return nil, http.StatusBadRequest, fmt.Sprintf("[%s] key already exists: %s", fullPath, key)
					}
					v[key] = val
				case http.MethodPatch:
					if !exists {
						return nil, http.StatusBadRequest, fmt.Sprintf("[%s] key does not exist: %s", fullPath, key)
					}
					v[key] = val
				case http.MethodDelete:
					if !exists {
						return nil, http.StatusNotFound, fmt.Sprintf("[%s] key does not exist: %s", fullPath, key)
					}
					delete(v, key)
				}
				return nil, http.StatusOK, ""
			}
			m := v
			k := key
			set = func(nv any) { m[k] = nv }
			ptr = v[key]

		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil {
				return nil, http.StatusBadRequest, fmt.Sprintf("[%s] invalid array index '%s': %v", fullPath, key, err)
			}
			insert := last && method == http.MethodPut
			if idx < 0 || idx > len(v) || (!insert && idx == len(v)) {
				return nil, http.StatusBadRequest, fmt.Sprintf("[%s] array index out of bounds: %s", fullPath, key)
			}
			if last {
				switch method {
				case http.MethodGet:
					return v[idx], http.StatusOK, ""
				case http.MethodPost:
					arr, ok := v[idx].([]any)
					if !ok {
						return nil, http.StatusBadRequest, fmt.Sprintf("[%s] unable to append to non-array", fullPath)
					}
					if _, nested := val.([]any); nested {
						return nil, http.StatusBadRequest, nestedArrayMsg(fullPath)
					}
					v[idx] = append(arr, val)
				case http.MethodPut:
					out := make([]any, 0, len(v)+1)
					out = append(out, v[:idx]...)
					out = append(out, val)
					out = append(out, v[idx:]...)
					set(out)
				case http.MethodPatch:
					v[idx] = val
				case http.MethodDelete:
					out := make([]any, 0, len(v)-1)
					out = append(out, v[:idx]...)
					out = append(out, v[idx+1:]...)
					set(out)
				}
				return nil, http.StatusOK, ""
			}
			arr := v
			j := idx
			set = func(nv any) { arr[j] = nv }
			ptr = v[idx]

		default:
			return nil, http.StatusBadRequest, fmt.Sprintf("invalid traversal path at: %s", strings.Join(keys[:i+1], "/"))
		}
	}
	return nil, http.StatusBadRequest, "empty path"
}

// nestedArrayMsg mirrors the decode error Caddy reports when an array is
// appended into a list of objects.
func nestedArrayMsg(path string) string {
	return fmt.Sprintf("loading new config: [%s] json: cannot unmarshal array into Go value of type map[string]json.RawMessage", path)
}

// indexIDs maps every @id to its key path below the config root.
func indexIDs(root any) (map[string][]string, error) {
	idx := map[string][]string{}
	var dup error
	walk(root, nil, func(obj map[string]any, path []string) {
		id, ok := obj["@id"].(string)
		if !ok || dup != nil {
			return
		}
		if _, seen := idx[id]; seen {
			dup = fmt.Errorf("duplicate ID '%s' found at %s", id, "/"+strings.Join(path, "/"))
			return
		}
		idx[id] = append([]string(nil), path...)
	})
	return idx, dup
}

func walk(node any, path []string, fn func(map[string]any, []string)) {
	switch v := node.(type) {
	case map[string]any:
		fn(v, path)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(v[k], append(path, k), fn)
		}
	case []any:
		for i, item := range v {
			walk(item, append(path, strconv.Itoa(i)), fn)
		}
	}
}

func splitKeys(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
