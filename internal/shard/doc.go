/*
Package shard implements the key material handling behind threshold signing.

A user's secp256k1 key is split into two equal-length shards with a one-time-pad XOR:

	a, b, err := shard.Split(key)

Shard A stays with the client, encrypted under a password only the client knows.
Shard B is encrypted under a key derived from the user id and a per-user salt and stored
server side. Either shard alone is uniformly random and reveals nothing about the key.

At signing time both shards are decrypted, combined and turned into a signing key:

	key, err := shard.Combine(a, b)
	defer key.Wipe()

	priv, err := shard.PrivateKey(key, ownerAddress)
	defer shard.WipePrivateKey(priv)

Every decrypted or combined buffer is a *Secret. Its owner must call Wipe on every exit path.
Wiping is best-effort inside a garbage-collected runtime: copies made by the runtime or
by swap and core dumps are outside this package's reach, so deployments should disable
core dumps and lock memory where the platform allows it.

Ciphertexts use AES-256-GCM with a 96-bit IV and a 128-bit tag, encoded as
"<ivHex>:<authTagHex>:<cipherHex>".
*/
package shard
