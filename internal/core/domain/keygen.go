package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// keyAlphabet excludes nothing up front; visually ambiguous characters are
// resampled after the draw so the final segment never contains 0, O, 1 or I.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const ambiguousChars = "0O1I"

// DefaultKeyPrefix and DefaultKeyLength apply when the caller passes zero values.
const (
	DefaultKeyPrefix = "LS"
	DefaultKeyLength = 16
)

var keySuffixRegex = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// GenerateKey produces a license key of the form PREFIX-YEAR-RANDOM. The
// random segment is uppercase alphanumeric with ambiguous characters
// (0/O/1/I) replaced by unambiguous letters. Length controls the entropy of
// the random segment; the generator makes no unguessability guarantee
// beyond that.
func GenerateKey(prefix string, length int) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if length <= 0 {
		length = DefaultKeyLength
	}

	buf := make([]byte, length)
	for i := range buf {
		buf[i] = keyAlphabet[randIndex(len(keyAlphabet))]
		for strings.IndexByte(ambiguousChars, buf[i]) >= 0 {
			buf[i] = 'A' + byte(randIndex(26))
		}
	}

	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UTC().Year(), buf)
}

// ValidateKeyFormat checks the structural shape of a license key: three
// hyphen-delimited segments, a plausible year, and an alphanumeric suffix.
// It never implies the key exists.
func ValidateKeyFormat(key string) bool {
	if key == "" {
		return false
	}

	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return false
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 2020 || year > 2100 {
		return false
	}

	return parts[0] != "" && keySuffixRegex.MatchString(parts[2])
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the platform source is broken;
		// a license key draw cannot proceed without it.
		panic(fmt.Sprintf("keygen: random source unavailable: %v", err))
	}
	return int(v.Int64())
}
