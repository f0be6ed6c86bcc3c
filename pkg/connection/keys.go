package connection

import (
	"context"
	"fmt"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Key is a key to install on the interface.
type Key struct {
	Index    uint8
	Pairwise bool
	Cipher   CipherSuite
	Material []byte
	RSC      []byte

	// MAC is the peer for pairwise keys.
	MAC   wire.MACAddr
	TxKey bool
}

func (k Key) params() (wire.KeyParams, error) {
	if k.Index > MaxKeyIndex {
		return wire.KeyParams{}, fmt.Errorf("key index %d: %w", k.Index, fwerr.ErrInvalidParameter)
	}
	cipher, err := k.Cipher.Wire()
	if err != nil {
		return wire.KeyParams{}, err
	}
	if k.Cipher == CipherNone {
		return wire.KeyParams{}, fmt.Errorf("key without cipher: %w", fwerr.ErrInvalidParameter)
	}
	if n := k.Cipher.KeyLen(); len(k.Material) != n {
		return wire.KeyParams{}, fmt.Errorf("%s key must be %d bytes, got %d: %w",
			k.Cipher, n, len(k.Material), fwerr.ErrInvalidParameter)
	}
	usage := wire.KeyUsageGroup
	if k.Pairwise {
		usage = wire.KeyUsagePairwise
	}
	return wire.KeyParams{
		Index:  k.Index,
		Usage:  usage,
		Cipher: cipher,
		Key:    append([]byte(nil), k.Material...),
		RSC:    k.RSC,
		MAC:    k.MAC,
		TxKey:  k.TxKey,
	}, nil
}

func (m *Machine) isAP() bool {
	return m.config.Role == vif.RoleAP || m.config.Role == vif.RoleP2PGO
}

// AddKey installs a key. On an AP interface whose BSS is not up yet the key
// is cached and installed once the AP-started event arrives.
func (m *Machine) AddKey(ctx context.Context, k Key) error {
	params, err := k.params()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.isAP() && !m.apStarted {
		m.cacheAPKeyLocked(k)
		m.mu.Unlock()
		m.logger.Debug("caching key until AP is started", "index", k.Index)
		return nil
	}
	m.mu.Unlock()

	if err := m.submit(ctx, wire.OpAddKey, params, command.UrgencyBlock); err != nil {
		return fmt.Errorf("add key %d: %w", k.Index, err)
	}

	m.mu.Lock()
	m.keys[k.Index] = true
	if !k.Pairwise {
		m.groupKey = true
		m.stopHandshakeLocked()
	}
	m.mu.Unlock()
	return nil
}

func (m *Machine) cacheAPKeyLocked(k Key) {
	for i := range m.apKeys {
		if m.apKeys[i].Index == k.Index && m.apKeys[i].Pairwise == k.Pairwise {
			m.apKeys[i] = k
			return
		}
	}
	m.apKeys = append(m.apKeys, k)
}

// DeleteKey removes an installed key. Deleting an index that holds no key
// is a no-op.
func (m *Machine) DeleteKey(ctx context.Context, index uint8) error {
	if index > MaxKeyIndex {
		return fmt.Errorf("key index %d: %w", index, fwerr.ErrInvalidParameter)
	}

	m.mu.Lock()
	kept := m.apKeys[:0]
	for _, k := range m.apKeys {
		if k.Index != index {
			kept = append(kept, k)
		}
	}
	m.apKeys = kept
	installed := m.keys[index]
	m.mu.Unlock()

	if !installed {
		return nil
	}
	if err := m.submit(ctx, wire.OpDeleteKey, wire.DeleteKeyParams{Index: index}, command.UrgencyBlock); err != nil {
		return fmt.Errorf("delete key %d: %w", index, err)
	}

	m.mu.Lock()
	m.keys[index] = false
	m.mu.Unlock()
	return nil
}

// KeyInstalled reports whether index holds a key.
func (m *Machine) KeyInstalled(index uint8) bool {
	if index > MaxKeyIndex {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[index]
}
