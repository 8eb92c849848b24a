package core

import "hash/fnv"

// BucketHash maps (userID, flagKey) to a stable unsigned 32-bit value using
// FNV-1a over "userID:flagKey". The same inputs yield the same output across
// processes and restarts, which is what makes percentage rollouts and A/B
// assignments sticky per user without any stored state.
func BucketHash(userID, flagKey string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(flagKey))
	return h.Sum32()
}

// Percentile returns the user's rollout percentile for a flag, in [1, 100].
// A flag with rollout percentage P enables users whose percentile is <= P.
func Percentile(userID, flagKey string) int {
	return int(BucketHash(userID, flagKey)%100) + 1
}

// VariantBucket returns the user's A/B bucket for a flag, in [0, 100).
// It is derived from the same hash as Percentile so that rollout and variant
// assignment move together for a given user.
func VariantBucket(userID, flagKey string) int {
	return int(BucketHash(userID, flagKey) % 100)
}
