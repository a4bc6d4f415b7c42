package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jonwraymond/toolgateway/provider"
)

// Key returns the session key for a provider and its connection params.
// encoding/json writes struct fields in declaration order and map keys
// sorted, which makes the encoding canonical.
func Key(providerID string, params provider.ConnectionParams) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Only unsupported values fail to encode; params holds none.
		data = []byte(params.Transport)
	}
	sum := sha256.Sum256(data)
	return providerID + ":" + hex.EncodeToString(sum[:16])
}
