package caddy

import (
	"context"
	"strings"

	"github.com/osa911/fastcaddy/internal/logging"
)

// NormalizePath returns p with exactly one leading slash and no trailing
// slash. The root is "/".
func NormalizePath(p string) string {
	clean := CleanPath(p)
	if clean == "" {
		return "/"
	}
	return "/" + clean
}

// CleanPath strips leading and trailing slashes.
func CleanPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// PathToKeys splits a config path into its keys. The root has no keys.
func PathToKeys(p string) []string {
	clean := CleanPath(p)
	if clean == "" {
		return nil
	}
	return strings.Split(clean, "/")
}

// KeysToPath is the inverse of PathToKeys.
func KeysToPath(keys ...string) string {
	return "/" + strings.Join(keys, "/")
}

// NestedSetDict sets value at keys inside d, creating intermediate maps as
// needed. Existing non-map values on the way are replaced.
func NestedSetDict(d map[string]any, value any, keys ...string) {
	if len(keys) == 0 {
		return
	}
	cur := d
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// InitPath makes sure every object along path exists, creating the missing
// tail as empty objects in a single write.
func (c *Client) InitPath(ctx context.Context, path string) error {
	keys := PathToKeys(path)
	if len(keys) == 0 {
		return nil
	}

	// Longest existing prefix.
	existing := 0
	for existing < len(keys) {
		ok, err := c.nodeExists(ctx, KeysToPath(keys[:existing+1]...))
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		existing++
	}
	if existing == len(keys) {
		return nil
	}

	missing := keys[existing]
	value := map[string]any{}
	if rest := keys[existing+1:]; len(rest) > 0 {
		NestedSetDict(value, map[string]any{}, rest...)
	}

	if existing == 0 {
		rootExists, err := c.nodeExists(ctx, "/")
		if err != nil {
			return err
		}
		if !rootExists {
			// Caddy cannot traverse into a null root, so the whole tree is
			// posted at once.
			return c.PostConfig(ctx, "/", map[string]any{missing: value})
		}
	}

	target := KeysToPath(keys[:existing+1]...)
	if err := c.PutConfig(ctx, target, value); err != nil {
		return logging.WrapError(err, "failed to init "+path)
	}
	c.logger.Debug("Initialized config path %s", target)
	return nil
}

// nodeExists is true when the path holds any non-null value, including an
// empty object. HasPath is stricter.
func (c *Client) nodeExists(ctx context.Context, path string) (bool, error) {
	_, err := c.GetConfig(ctx, path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
