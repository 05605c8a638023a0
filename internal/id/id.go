// Package id generates time-sortable identifiers for orders and trades.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	OrderPrefix = "ORD-"
	TradePrefix = "TRD-"
)

var (
	mu   sync.Mutex
	mono io.Reader
	last uint64
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// At returns a ULID stamped with t. Stamps never move backwards, so ids stay
// sorted even when an injected clock is rewound.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	ms := ulid.Timestamp(t.UTC())
	if ms < last {
		ms = last
	}
	last = ms

	id, err := ulid.New(ms, mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

func Order(t time.Time) string { return OrderPrefix + At(t) }

func Trade(t time.Time) string { return TradePrefix + At(t) }
