package graphql

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const cursorPrefix = "row:"

// encodeCursor turns a row key into an opaque cursor
func encodeCursor(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + key))
}

// decodeCursor decodes a base64 cursor back to a row key
func decodeCursor(cursor string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor encoding: %w", err)
	}

	key, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok {
		return "", fmt.Errorf("invalid cursor format")
	}

	return key, nil
}
