package db_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/vulpemventures/quorum/internal/core/domain"
)

var ctx = context.Background()

func randomFingerprint() domain.Fingerprint {
	var fp domain.Fingerprint
	rand.Read(fp[:])
	return fp
}

func randomHex(len int) string {
	b := make([]byte, len)
	rand.Read(b)
	return hex.EncodeToString(b)
}
