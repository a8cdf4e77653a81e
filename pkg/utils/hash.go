package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// ShortHash returns the first 8 hex characters of the md5 of input,
// used as the collision-resistant suffix of source identifiers.
func ShortHash(input string) string {
	return HashString(input)[:8]
}
