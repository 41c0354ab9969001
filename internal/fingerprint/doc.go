// Package fingerprint computes content digests for every regular file under a
// set of scope roots.
//
// Output order is lexicographic by slash-separated relative path so that two
// scans of the same tree produce identical record sequences on every platform.
// Digests cover file bytes only; paths, timestamps and permissions do not
// contribute.
package fingerprint
