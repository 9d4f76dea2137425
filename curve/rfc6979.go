// Copyright (c) 2023, Circle Internet Financial, LTD. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package curve

import (
	"crypto/hmac"
	"crypto/sha256"
	"math/big"
)

// RFC6979Nonce deterministically derives the ECDSA nonce k for a
// private scalar and message digest, per RFC 6979 §3.2, specialized to
// SHA-256/secp256k1. This backs the mother's own header and
// accumulator-export signatures (§4.4, §4.6), which — unlike the
// presignature-based child signing path — are single-party signatures
// with a real private key and benefit from deterministic, RNG-free
// nonces.
func RFC6979Nonce(privateKey *big.Int, messageHash [32]byte) *big.Int {
	n := N()
	qlen := n.BitLen()
	holen := sha256.Size

	priv := int2octets(privateKey, qlen)
	h1 := bits2octets(messageHash[:], n, qlen)

	v := bytesOf(0x01, holen)
	k := bytesOf(0x00, holen)

	k = hmacSum(k, append(append(append([]byte{}, v...), 0x00), append(priv, h1...)...))
	v = hmacSum(k, v)
	k = hmacSum(k, append(append(append([]byte{}, v...), 0x01), append(priv, h1...)...))
	v = hmacSum(k, v)

	for {
		v = hmacSum(k, v)
		t := new(big.Int).SetBytes(v)
		t.Mod(t, n)
		if t.Sign() != 0 {
			return t
		}
		k = hmacSum(k, append(v, 0x00))
		v = hmacSum(k, v)
	}
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func int2octets(v *big.Int, qlen int) []byte {
	rolen := (qlen + 7) / 8
	out := make([]byte, rolen)
	v.FillBytes(out)
	return out
}

func bits2octets(hash []byte, n *big.Int, qlen int) []byte {
	z := new(big.Int).SetBytes(hash)
	nBits := qlen
	hBits := len(hash) * 8
	if hBits > nBits {
		z.Rsh(z, uint(hBits-nBits))
	}
	if z.Cmp(n) >= 0 {
		z.Sub(z, n)
	}
	return int2octets(z, qlen)
}
