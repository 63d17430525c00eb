// Package store defines the keyed storage the lifecycle engine runs on.
//
// Entities are addressed by (kind, product id[, sub key]). Every engine call
// runs inside one Update transaction: reads, writes and emitted events commit
// together or not at all.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind string

const (
	KindMeta          Kind = "meta"
	KindProduct       Kind = "product"
	KindContributions Kind = "contributions"
	KindMilestones    Kind = "milestones"
	KindRewardTiers   Kind = "reward_tiers"
	KindClaim         Kind = "claim"
)

// ErrConflict is returned when a transaction lost a race and could not be retried.
var ErrConflict = errors.New("store: transaction conflict")

type Key struct {
	Kind      Kind
	ProductID int64
	Sub       string
}

// String renders a key so that lexical order equals (kind, product id, sub) order.
func (k Key) String() string {
	return fmt.Sprintf("%s/%020d/%s", k.Kind, k.ProductID, k.Sub)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("store: malformed key %q", s)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("store: malformed key %q: %w", s, err)
	}
	return Key{Kind: Kind(parts[0]), ProductID: id, Sub: parts[2]}, nil
}

func MetaKey(name string) Key           { return Key{Kind: KindMeta, Sub: name} }
func ProductKey(id int64) Key           { return Key{Kind: KindProduct, ProductID: id} }
func ContributionsKey(id int64) Key     { return Key{Kind: KindContributions, ProductID: id} }
func MilestonesKey(id int64) Key        { return Key{Kind: KindMilestones, ProductID: id} }
func RewardTiersKey(id int64) Key       { return Key{Kind: KindRewardTiers, ProductID: id} }
func ClaimKey(id int64, who string) Key { return Key{Kind: KindClaim, ProductID: id, Sub: who} }

// Entry is one listed value.
type Entry struct {
	Key   Key
	Value json.RawMessage
}

// Tx is the view of the store inside a single engine call.
type Tx interface {
	// Get decodes the value at key into dst and reports whether it existed.
	Get(ctx context.Context, key Key, dst any) (bool, error)
	Put(ctx context.Context, key Key, value any) error
	Delete(ctx context.Context, key Key) error
	// List returns entries of kind in key order; productID 0 lists every product.
	List(ctx context.Context, kind Kind, productID int64) ([]Entry, error)
	// Emit queues a domain event that is published only if the transaction commits.
	Emit(ctx context.Context, routingKey string, productID int64, payload any) error
}

type Store interface {
	// Update runs fn in a read-write transaction; any error discards every write.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Decode unmarshals a listed value.
func Decode[T any](e Entry) (T, error) {
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, fmt.Errorf("store: decode %s: %w", e.Key, err)
	}
	return v, nil
}
