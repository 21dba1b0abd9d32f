package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/modelgate/modelgate/internal/domain"
)

const keyPrefix = "cache:"

// Key derives the content-addressable cache key for a request: a SHA-256
// digest over the operation, normalized input, and the options that affect
// the output. Canonicalization relies on encoding/json emitting map keys in
// sorted order, so semantically identical requests hash identically no
// matter how their fields were ordered on the wire.
//
// Keys are namespaced "cache:<operation>:<hex digest>" so administrative
// invalidation can target one operation type with a prefix delete.
func Key(op domain.Operation, input any, opts domain.Options, userScope string) string {
	canonical := map[string]any{
		"operation": string(op),
		"input":     input,
		"model":     opts.Model,
	}
	if opts.Temperature != nil {
		canonical["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		canonical["max_tokens"] = *opts.MaxTokens
	}
	if opts.TopP != nil {
		canonical["top_p"] = *opts.TopP
	}
	if len(opts.Stop) > 0 {
		canonical["stop"] = opts.Stop
	}
	if userScope != "" {
		canonical["scope"] = userScope
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)

	return keyPrefix + string(op) + ":" + hex.EncodeToString(hash[:])
}

// Prefix returns the key namespace for one operation type, for wildcard
// invalidation.
func Prefix(op domain.Operation) string {
	return keyPrefix + string(op) + ":"
}

// GlobalPrefix returns the namespace covering every cached entry.
func GlobalPrefix() string {
	return keyPrefix
}
