package library

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var factsBucket = []byte("facts")

// ErrFactIncomplete is returned when an assertion lacks an entity, an
// attribute or a value.
var ErrFactIncomplete = errors.New("fact needs entity, attribute and value")

// Fact is one entity/attribute/value assertion. Facts are never updated in
// place; a later assertion for the same entity and attribute supersedes the
// earlier one, and Tx orders them.
type Fact struct {
	Entity    string    `json:"entity"`
	Attribute string    `json:"attribute"`
	Value     string    `json:"value"`
	Tx        uint64    `json:"tx"`
	Time      time.Time `json:"time"`
}

// FactFilter selects facts. Empty fields match everything.
type FactFilter struct {
	Entity    string `json:"entity,omitempty"`
	Attribute string `json:"attribute,omitempty"`

	// Latest keeps only the newest assertion per entity and attribute.
	Latest bool `json:"latest,omitempty"`
}

func (f FactFilter) match(x Fact) bool {
	return (f.Entity == "" || f.Entity == x.Entity) &&
		(f.Attribute == "" || f.Attribute == x.Attribute)
}

func factKey(tx uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, tx)
	return k
}

// AssertFact appends a fact and returns it with Tx and Time filled.
func (s *Store) AssertFact(entity, attribute, value string) (Fact, error) {
	f := Fact{
		Entity:    strings.TrimSpace(entity),
		Attribute: strings.TrimSpace(attribute),
		Value:     value,
		Time:      s.opts.Now(),
	}
	if f.Entity == "" || f.Attribute == "" || f.Value == "" {
		return Fact{}, ErrFactIncomplete
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(factsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		f.Tx = seq
		return putJSON(b, factKey(seq), f)
	})
	if err != nil {
		return Fact{}, err
	}
	s.logger.Debug("fact asserted", "entity", f.Entity, "attribute", f.Attribute, "tx", f.Tx)
	return f, nil
}

// Facts returns the facts matching filter in assertion order.
func (s *Store) Facts(filter FactFilter) ([]Fact, error) {
	var out []Fact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(factsBucket).ForEach(func(_, v []byte) error {
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("error deserializing fact: %w", err)
			}
			if filter.match(f) {
				out = append(out, f)
			}
			return nil
		})
	})
	if err != nil || !filter.Latest {
		return out, err
	}

	type slot struct{ entity, attribute string }
	newest := make(map[slot]int, len(out))
	for i, f := range out {
		newest[slot{f.Entity, f.Attribute}] = i
	}
	latest := out[:0]
	for i, f := range out {
		if newest[slot{f.Entity, f.Attribute}] == i {
			latest = append(latest, f)
		}
	}
	return latest, nil
}
