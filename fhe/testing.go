package fhe

import "sync"

var (
	testKeyOnce sync.Once
	testKey     *NetworkKey
	testKeyErr  error
)

// TestNetworkKey returns a small process-wide key for tests. Not for production use.
func TestNetworkKey() (*NetworkKey, error) {
	testKeyOnce.Do(func() {
		testKey, testKeyErr = GenerateNetworkKey(512, 3, 2)
	})
	return testKey, testKeyErr
}

// MustTestNetworkKey is like TestNetworkKey but panics if key generation fails.
func MustTestNetworkKey() *NetworkKey {
	key, err := TestNetworkKey()
	if err != nil {
		panic(err)
	}
	return key
}
