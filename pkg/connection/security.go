package connection

import (
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Limits enforced before any command is issued.
const (
	MaxSSIDLen       = 32
	MaxKeyIndex      = 3
	MinPassphraseLen = 8
	MaxPassphraseLen = 63
	PMKLen           = 32

	pbkdf2Iterations = 4096
)

// AuthType is the authentication scheme of a network.
type AuthType uint8

const (
	AuthOpen AuthType = iota
	AuthShared
	AuthWPAPSK
	AuthWPA2PSK
)

// String returns the auth type name.
func (a AuthType) String() string {
	switch a {
	case AuthOpen:
		return "OPEN"
	case AuthShared:
		return "SHARED"
	case AuthWPAPSK:
		return "WPA_PSK"
	case AuthWPA2PSK:
		return "WPA2_PSK"
	default:
		return "UNKNOWN"
	}
}

// IsPSK reports whether the network derives its keys from a passphrase.
func (a AuthType) IsPSK() bool {
	return a == AuthWPAPSK || a == AuthWPA2PSK
}

// CipherSuite is a host-side cipher selector. Not every suite is supported
// by the firmware.
type CipherSuite uint8

const (
	CipherNone CipherSuite = iota
	CipherWEP40
	CipherWEP104
	CipherTKIP
	CipherCCMP
	CipherSMS4
	CipherAESCMAC
	CipherGCMP
)

// String returns the suite name.
func (c CipherSuite) String() string {
	switch c {
	case CipherNone:
		return "NONE"
	case CipherWEP40:
		return "WEP40"
	case CipherWEP104:
		return "WEP104"
	case CipherTKIP:
		return "TKIP"
	case CipherCCMP:
		return "CCMP"
	case CipherSMS4:
		return "SMS4"
	case CipherAESCMAC:
		return "AES_CMAC"
	case CipherGCMP:
		return "GCMP"
	default:
		return "UNKNOWN"
	}
}

// Wire maps the suite to the firmware cipher.
func (c CipherSuite) Wire() (wire.Cipher, error) {
	switch c {
	case CipherNone:
		return wire.CipherNone, nil
	case CipherWEP40, CipherWEP104:
		return wire.CipherWEP, nil
	case CipherTKIP:
		return wire.CipherTKIP, nil
	case CipherCCMP:
		return wire.CipherAES, nil
	case CipherSMS4:
		return wire.CipherWAPI, nil
	default:
		return 0, fmt.Errorf("cipher %s unsupported: %w", c, fwerr.ErrInvalidParameter)
	}
}

// KeyLen returns the key material length the suite requires, or 0 if the
// suite takes no key.
func (c CipherSuite) KeyLen() int {
	switch c {
	case CipherWEP40:
		return 5
	case CipherWEP104:
		return 13
	case CipherTKIP, CipherSMS4:
		return 32
	case CipherCCMP:
		return 16
	default:
		return 0
	}
}

// Security describes how to authenticate to a network.
type Security struct {
	Auth        AuthType
	Cipher      CipherSuite
	GroupCipher CipherSuite

	// Passphrase or PSK is required for PSK networks. PSK wins when both
	// are set.
	Passphrase string
	PSK        []byte

	// WEPKeys are the static keys for WEP networks; KeyIndex selects the
	// transmit key.
	WEPKeys  [][]byte
	KeyIndex uint8
}

func (s Security) groupCipher() CipherSuite {
	if s.GroupCipher == CipherNone {
		return s.Cipher
	}
	return s.GroupCipher
}

func (s Security) isWEP() bool {
	return s.Cipher == CipherWEP40 || s.Cipher == CipherWEP104
}

// validate checks the security block. Every failure is ErrInvalidParameter.
func (s Security) validate() error {
	if s.KeyIndex > MaxKeyIndex {
		return fmt.Errorf("key index %d: %w", s.KeyIndex, fwerr.ErrInvalidParameter)
	}
	if _, err := s.Cipher.Wire(); err != nil {
		return err
	}
	if _, err := s.groupCipher().Wire(); err != nil {
		return err
	}

	switch {
	case s.Auth.IsPSK():
		if s.PSK != nil {
			if len(s.PSK) != PMKLen {
				return fmt.Errorf("psk must be %d bytes: %w", PMKLen, fwerr.ErrInvalidParameter)
			}
		} else if n := len(s.Passphrase); n < MinPassphraseLen || n > MaxPassphraseLen {
			return fmt.Errorf("passphrase must be %d-%d characters: %w",
				MinPassphraseLen, MaxPassphraseLen, fwerr.ErrInvalidParameter)
		}
		if s.isWEP() || s.Cipher == CipherNone {
			return fmt.Errorf("%s requires TKIP or CCMP: %w", s.Auth, fwerr.ErrInvalidParameter)
		}
	case s.isWEP():
		if int(s.KeyIndex) >= len(s.WEPKeys) {
			return fmt.Errorf("no WEP key at index %d: %w", s.KeyIndex, fwerr.ErrInvalidParameter)
		}
		for i, k := range s.WEPKeys {
			if len(k) != CipherWEP40.KeyLen() && len(k) != CipherWEP104.KeyLen() {
				return fmt.Errorf("WEP key %d has length %d: %w", i, len(k), fwerr.ErrInvalidParameter)
			}
		}
	case s.Auth == AuthShared:
		return fmt.Errorf("shared auth requires WEP: %w", fwerr.ErrInvalidParameter)
	}
	return nil
}

// pmk returns the pairwise master key for PSK networks, nil otherwise.
func (s Security) pmk(ssid []byte) []byte {
	if !s.Auth.IsPSK() {
		return nil
	}
	if s.PSK != nil {
		return append([]byte(nil), s.PSK...)
	}
	return DerivePMK(s.Passphrase, ssid)
}

// DerivePMK derives the WPA pairwise master key from a passphrase.
func DerivePMK(passphrase string, ssid []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), ssid, pbkdf2Iterations, PMKLen, sha1.New)
}

func (s Security) authMode() wire.AuthMode {
	switch s.Auth {
	case AuthWPAPSK:
		return wire.AuthWPAPSK
	case AuthWPA2PSK:
		return wire.AuthWPA2PSK
	default:
		return wire.AuthNone
	}
}

func (s Security) dot11Auth() wire.Dot11Auth {
	if s.Auth == AuthShared {
		return wire.Dot11AuthShared
	}
	return wire.Dot11AuthOpen
}

func validateSSID(ssid []byte) error {
	if len(ssid) == 0 || len(ssid) > MaxSSIDLen {
		return fmt.Errorf("ssid length %d: %w", len(ssid), fwerr.ErrInvalidParameter)
	}
	return nil
}
