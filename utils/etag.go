package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerateETag builds a weak validator from a record id and its last update.
func GenerateETag(id primitive.ObjectID, updatedAt time.Time) string {
	return fmt.Sprintf(`W/"%s-%d"`, id.Hex(), updatedAt.UnixNano())
}

// ListETag also folds in the list length, so deletions change the tag even
// when the newest record stays the same.
func ListETag(latestID primitive.ObjectID, latest time.Time, count int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", latestID.Hex(), latest.UnixNano(), count)))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}
