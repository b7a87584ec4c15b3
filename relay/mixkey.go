// mixkey.go - Relay key and replay filter.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package relay

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/sphinxheader/config"
	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/utils"
)

var replayBucket = []byte("replay_tags")

var dbOptions = &bolt.Options{
	NoFreelistSync: true,
}

// ErrFilterFull is returned when the replay filter can not take any more
// entries without exceeding its false positive rate.
var ErrFilterFull = errors.New("relay: replay filter is full")

// MixKey is a relay NIKE key pair, and the replay filter of the headers
// processed with it.
type MixKey struct {
	sync.Mutex

	scheme  nike.Scheme
	privKey nike.PrivateKey
	pubKey  nike.PublicKey

	f  *bloom.Filter
	db *bolt.DB
}

// PublicKey returns the relay's public key.
func (k *MixKey) PublicKey() nike.PublicKey {
	return k.pubKey
}

// PrivateKey returns the relay's private key.
func (k *MixKey) PrivateKey() nike.PrivateKey {
	return k.privKey
}

// NodeID returns the node identifier of the relay.
func (k *MixKey) NodeID() [constants.NodeIDLength]byte {
	return sphinx.NodeIDFromPublicKey(k.pubKey)
}

// IsReplay returns true iff the replay tag was seen before, and records it
// otherwise.  A full filter treats every header as a replay.
func (k *MixKey) IsReplay(tag *[sphinx.ReplayTagLength]byte) (bool, error) {
	k.Lock()
	defer k.Unlock()

	if k.f.Entries() >= k.f.MaxEntries() {
		return true, ErrFilterFull
	}
	if k.f.TestAndSet(tag[:]) {
		return true, nil
	}
	if k.db != nil {
		err := k.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(replayBucket).Put(tag[:], []byte{})
		})
		if err != nil {
			return false, fmt.Errorf("relay: failed to persist replay tag: %w", err)
		}
	}
	return false, nil
}

// Entries returns the number of replay tags recorded.
func (k *MixKey) Entries() int {
	k.Lock()
	defer k.Unlock()
	return k.f.Entries()
}

// Close clears the key material and closes the replay database.
func (k *MixKey) Close() error {
	k.Lock()
	defer k.Unlock()

	if k.privKey != nil {
		k.privKey.Reset()
		k.privKey = nil
	}
	if k.db != nil {
		err := k.db.Close()
		k.db = nil
		return err
	}
	return nil
}

// openReplayDB opens the replay database and loads the persisted tags into
// the filter.
func (k *MixKey) openReplayDB(f string) error {
	db, err := bolt.Open(f, 0600, dbOptions)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(replayBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(tag, _ []byte) error {
			k.f.TestAndSet(tag)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return err
	}
	k.db = db
	return nil
}

func newMixKey(scheme nike.Scheme, cfg *config.Relay) (*MixKey, error) {
	f, err := bloom.New(rand.Reader, cfg.ReplayFilterSize, cfg.ReplayFilterRate)
	if err != nil {
		return nil, err
	}
	return &MixKey{
		scheme: scheme,
		f:      f,
	}, nil
}

// NewMixKey generates a new, ephemeral, relay key.  The replay database is
// not used.
func NewMixKey(scheme nike.Scheme, cfg *config.Relay) (*MixKey, error) {
	k, err := newMixKey(scheme, cfg)
	if err != nil {
		return nil, err
	}
	k.pubKey, k.privKey, err = scheme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return k, nil
}

// LoadMixKey loads the relay key from the PEM files in the relay's DataDir,
// generating and storing a new key if neither file exists, and opens the
// replay database if one is configured.
func LoadMixKey(scheme nike.Scheme, cfg *config.Relay) (*MixKey, error) {
	k, err := newMixKey(scheme, cfg)
	if err != nil {
		return nil, err
	}

	privateKeyFile := cfg.Path(cfg.PrivateKeyFile)
	publicKeyFile := cfg.Path(cfg.PublicKeyFile)
	if utils.BothExists(privateKeyFile, publicKeyFile) {
		k.privKey, err = pem.FromPrivatePEMFile(privateKeyFile, scheme)
		if err != nil {
			return nil, err
		}
		k.pubKey, err = pem.FromPublicPEMFile(publicKeyFile, scheme)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(k.pubKey.Bytes(), scheme.DerivePublicKey(k.privKey).Bytes()) {
			return nil, fmt.Errorf("relay: %s does not match %s", publicKeyFile, privateKeyFile)
		}
	} else if utils.BothNotExists(privateKeyFile, publicKeyFile) {
		k.pubKey, k.privKey, err = scheme.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err = pem.PrivateKeyToFile(privateKeyFile, k.privKey, scheme); err != nil {
			return nil, err
		}
		if err = pem.PublicKeyToFile(publicKeyFile, k.pubKey, scheme); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("%s and %s must either both exist or not exist", privateKeyFile, publicKeyFile)
	}

	if cfg.ReplayDB != "" {
		if err = k.openReplayDB(cfg.Path(cfg.ReplayDB)); err != nil {
			k.Close()
			return nil, err
		}
	}
	return k, nil
}
