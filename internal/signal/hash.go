package signal

import (
	"crypto/md5"
	"encoding/hex"
)

// contentHash fingerprints an item's title+summary for idempotent storage.
// MD5 here is a dedup key, not a security property.
func contentHash(title, summary string) string {
	sum := md5.Sum([]byte(title + "\x00" + summary))
	return hex.EncodeToString(sum[:])
}
