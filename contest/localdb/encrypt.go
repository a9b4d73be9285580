// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localdb

import (
	"bytes"

	"github.com/marcopeereboom/sbox"
	"github.com/pesnobot/contestd/util"
)

// maybeEncrypt encrypts the blob when the database was opened with an
// encryption key. Caller must hold the lock.
func (l *localdb) maybeEncrypt(data []byte) ([]byte, error) {
	if l.key == nil {
		return data, nil
	}
	return sbox.Encrypt(DBVersion, l.key, data)
}

// maybeDecrypt decrypts the blob if it carries an sbox header. Blobs written
// before encryption was enabled pass through untouched. Caller must hold the
// lock.
func (l *localdb) maybeDecrypt(data []byte) ([]byte, error) {
	if !isEncrypted(data) {
		return data, nil
	}
	decrypted, _, err := sbox.Decrypt(l.key, data)
	if err != nil {
		return nil, err
	}
	return decrypted, nil
}

func (l *localdb) zeroKey() {
	if l.key == nil {
		return
	}
	util.Zero(l.key[:])
	l.key = nil
}

// isEncrypted returns whether the provided blob has been prefixed with an
// sbox header, indicating that it is an encrypted blob.
func isEncrypted(b []byte) bool {
	return bytes.HasPrefix(b, []byte("sbox"))
}
