package broker

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

// IdempotencyKey derives the key passed to the tool endpoint so the remote
// side can deduplicate retries. The request_id scheme shares one key across
// all retries of a user turn; arg_hash keys identical calls across turns.
func IdempotencyKey(scheme manifest.IdempotencyScheme, requestID, tool string, args map[string]any) string {
	if scheme == manifest.SchemeArgHash {
		return argHash(tool, args)
	}
	return requestID
}

// argHash is FNV-1a 64 over the tool name and the canonical JSON encoding of
// the args. encoding/json sorts map keys, so the encoding is stable.
func argHash(tool string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	h := fnv.New64a()
	h.Write([]byte(tool))
	h.Write([]byte{'\n'})
	h.Write(encoded)
	return fmt.Sprintf("%016x", h.Sum64())
}
